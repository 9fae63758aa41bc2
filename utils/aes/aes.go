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

// Package aes encrypts and decrypts the ${secrets.key} values of route properties.
package aes

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"io"

	"golang.org/x/xerrors"
)

// ErrInvalidCiphertext the value was not produced by Encrypt with the same key
var ErrInvalidCiphertext = xerrors.New("invalid ciphertext")

// generateKey pads or truncates key to 32 bytes for AES-256
func generateKey(key []byte) []byte {
	newKey := make([]byte, 32)
	copy(newKey, key)
	for i := len(key); i < 32; i++ {
		newKey[i] = '0'
	}
	return newKey
}

// Encrypt 使用AES-256 CBC加密数据，返回 hex(iv+ciphertext)
func Encrypt(plaintext string, key []byte) (string, error) {
	block, err := aes.NewCipher(generateKey(key))
	if err != nil {
		return "", err
	}
	padding := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := make([]byte, len(plaintext)+padding)
	copy(padded, plaintext)
	for i := len(plaintext); i < len(padded); i++ {
		padded[i] = byte(padding)
	}
	ciphertext := make([]byte, aes.BlockSize+len(padded))
	iv := ciphertext[:aes.BlockSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext[aes.BlockSize:], padded)
	return hex.EncodeToString(ciphertext), nil
}

// Decrypt 使用AES-256解密数据
func Decrypt(encrypted string, key []byte) (string, error) {
	block, err := aes.NewCipher(generateKey(key))
	if err != nil {
		return "", err
	}
	ciphertext, err := hex.DecodeString(encrypted)
	if err != nil {
		return "", xerrors.Errorf("decode secret: %w", err)
	}
	if len(ciphertext) < 2*aes.BlockSize || len(ciphertext)%aes.BlockSize != 0 {
		return "", ErrInvalidCiphertext
	}
	iv := ciphertext[:aes.BlockSize]
	ciphertext = ciphertext[aes.BlockSize:]
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(ciphertext, ciphertext)

	padding := int(ciphertext[len(ciphertext)-1])
	if padding < 1 || padding > aes.BlockSize {
		return "", ErrInvalidCiphertext
	}
	for i := len(ciphertext) - padding; i < len(ciphertext); i++ {
		if ciphertext[i] != byte(padding) {
			return "", ErrInvalidCiphertext
		}
	}
	return string(ciphertext[:len(ciphertext)-padding]), nil
}
