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
	"errors"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

// Dialect the differences between the supported databases. Queries are
// written with ? placeholders and rebound for the target database.
// Dialect 数据库方言
type Dialect struct {
	Name string
	// DriverName name registered with database/sql
	DriverName string
	// BlobType column type holding encoded exchanges
	BlobType string
	// Numbered placeholders $1, $2 instead of ?
	Numbered       bool
	isDuplicateKey func(err error) bool
}

var (
	// Postgres dialect for github.com/lib/pq
	Postgres = Dialect{
		Name:       "postgres",
		DriverName: "postgres",
		BlobType:   "BYTEA",
		Numbered:   true,
		isDuplicateKey: func(err error) bool {
			var pqErr *pq.Error
			return errors.As(err, &pqErr) && pqErr.Code == "23505"
		},
	}
	// MySQL dialect for github.com/go-sql-driver/mysql
	MySQL = Dialect{
		Name:       "mysql",
		DriverName: "mysql",
		BlobType:   "LONGBLOB",
		isDuplicateKey: func(err error) bool {
			var myErr *mysql.MySQLError
			return errors.As(err, &myErr) && myErr.Number == 1062
		},
	}
)

// DialectOf returns the dialect of a database/sql driver name
func DialectOf(driverName string) (Dialect, bool) {
	switch driverName {
	case Postgres.DriverName, "pgx":
		return Postgres, true
	case MySQL.DriverName:
		return MySQL, true
	default:
		return Dialect{}, false
	}
}

// Rebind rewrites ? placeholders for the dialect
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// IsDuplicateKey reports whether err is a primary key violation
func (d Dialect) IsDuplicateKey(err error) bool {
	return err != nil && d.isDuplicateKey != nil && d.isDuplicateKey(err)
}
