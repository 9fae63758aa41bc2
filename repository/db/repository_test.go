/*
 * Copyright 2025 The RuleGo Authors.
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

package db

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulego/routego/api/types"
	"github.com/rulego/routego/repository"
)

// openRepository opens a repository on the database named by env, skipping
// the test when it is not set or not reachable
func openRepository(t *testing.T, dialect Dialect, env string) *Repository {
	dsn := os.Getenv(env)
	if dsn == "" {
		t.Skipf("%s not set", env)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	name := "routego_" + strings.ToLower(ulid.Make().String())
	repo, err := Open(ctx, dialect, dsn, name)
	if err != nil {
		t.Skipf("%s not reachable: %v", dialect.Name, err)
	}
	t.Cleanup(func() {
		_ = repo.Drop(context.Background())
		_ = repo.Close()
	})
	return repo
}

func TestRepository(t *testing.T) {
	for _, tt := range []struct {
		dialect Dialect
		env     string
	}{
		{Postgres, "POSTGRES_DSN"},
		{MySQL, "MYSQL_DSN"},
	} {
		t.Run(tt.dialect.Name, func(t *testing.T) {
			t.Run("AddGetRemove", func(t *testing.T) {
				testAddGetRemove(t, openRepository(t, tt.dialect, tt.env))
			})
			t.Run("OptimisticLocking", func(t *testing.T) {
				testOptimisticLocking(t, openRepository(t, tt.dialect, tt.env))
			})
			t.Run("Recovery", func(t *testing.T) {
				testRecovery(t, openRepository(t, tt.dialect, tt.env))
			})
		})
	}
}

func testAddGetRemove(t *testing.T, repo *Repository) {
	ctx := context.Background()
	missing, err := repo.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	first := types.NewExchange(ctx, "a")
	old, err := repo.Add(ctx, "k1", first)
	require.NoError(t, err)
	assert.Nil(t, old)
	assert.Equal(t, int64(1), repository.Version(first))

	old, err = repo.Add(ctx, "k1", types.NewExchange(ctx, "b"))
	require.NoError(t, err)
	require.NotNil(t, old)
	assert.Equal(t, first.Id(), old.Id())

	_, err = repo.Add(ctx, "k0", types.NewExchange(ctx, "c"))
	require.NoError(t, err)
	keys, err := repo.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"k0", "k1"}, keys)

	stored, err := repo.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "b", stored.Body())
	assert.Equal(t, int64(2), repository.Version(stored))

	require.NoError(t, repo.Remove(ctx, "k1", stored))
	stored, err = repo.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func testOptimisticLocking(t *testing.T, repo *Repository) {
	ctx := context.Background()
	first := types.NewExchange(ctx, "a")
	require.NoError(t, repo.CompareAndAdd(ctx, "k1", nil, first))
	assert.True(t, errors.Is(repo.CompareAndAdd(ctx, "k1", nil, types.NewExchange(ctx, "x")), types.ErrOptimisticLocking))

	current, err := repo.Get(ctx, "k1")
	require.NoError(t, err)
	stale, err := repo.Get(ctx, "k1")
	require.NoError(t, err)

	next := types.NewExchange(ctx, "ab")
	require.NoError(t, repo.CompareAndAdd(ctx, "k1", current, next))
	assert.Equal(t, int64(2), repository.Version(next))
	assert.True(t, errors.Is(repo.CompareAndAdd(ctx, "k1", stale, types.NewExchange(ctx, "ax")), types.ErrOptimisticLocking))
	assert.True(t, errors.Is(repo.CompareAndRemove(ctx, "k1", stale), types.ErrOptimisticLocking))

	stored, err := repo.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "ab", stored.Body())
	require.NoError(t, repo.CompareAndRemove(ctx, "k1", stored))
	assert.True(t, errors.Is(repo.CompareAndRemove(ctx, "k1", stored), types.ErrOptimisticLocking))
}

func testRecovery(t *testing.T, repo *Repository) {
	ctx := context.Background()
	repo.UseRecovery = true
	exchange := types.NewExchange(ctx, "done")
	require.NoError(t, repo.CompareAndAdd(ctx, "k1", nil, exchange))
	require.NoError(t, repo.CompareAndRemove(ctx, "k1", exchange))

	ids, err := repo.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{exchange.Id()}, ids)

	recovered, err := repo.Recover(ctx, exchange.Id())
	require.NoError(t, err)
	require.NotNil(t, recovered)
	assert.Equal(t, "done", recovered.Body())

	require.NoError(t, repo.Confirm(ctx, exchange.Id()))
	recovered, err = repo.Recover(ctx, exchange.Id())
	require.NoError(t, err)
	assert.Nil(t, recovered)
}
