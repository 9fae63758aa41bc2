/*
 * Copyright 2024 The RuleGo Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package aes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKey(t *testing.T) {
	assert.Equal(t, "short000000000000000000000000000", string(generateKey([]byte("short"))))
	assert.Equal(t, "exactlythirtytwobyteslongkey1234", string(generateKey([]byte("exactlythirtytwobyteslongkey1234"))))
	assert.Equal(t, "thisisalongerkeythanthirtytwobyt", string(generateKey([]byte("thisisalongerkeythanthirtytwobytes1234567890"))))
}

func TestAes(t *testing.T) {
	key := []byte("secret")
	for _, plaintext := range []string{"Hello, World!", "", "1234567890123456"} {
		encrypted, err := Encrypt(plaintext, key)
		require.Nil(t, err)
		decrypted, err := Decrypt(encrypted, key)
		require.Nil(t, err)
		assert.Equal(t, plaintext, decrypted)
	}

	_, err := Decrypt("not a hex string", key)
	assert.NotNil(t, err)

	_, err = Decrypt("00112233", key)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	encrypted, err := Encrypt("Hello, World!", key)
	require.Nil(t, err)
	decrypted, err := Decrypt(encrypted, []byte("other"))
	if err == nil {
		assert.NotEqual(t, "Hello, World!", decrypted)
	}
}
