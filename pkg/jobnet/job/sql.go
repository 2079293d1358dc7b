// Copyright 2024 The kubegems.io Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package job

import (
	"context"

	"github.com/VividCortex/mysqlerr"
	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"kubegems.io/jobnet/pkg/jobnet/ref"
	"kubegems.io/jobnet/pkg/log"
)

const ClassSQL = "sql"

type SQLParams struct {
	Statements []string `yaml:"statements"`
}

// SQLClass runs statements in one transaction on DB.
type SQLClass struct {
	DB *gorm.DB
}

func (c *SQLClass) Build(def *Definition) (Unit, error) {
	if c.DB == nil {
		return nil, errors.New("sql jobs need a database, set --database-addr")
	}
	params := &SQLParams{}
	if err := def.DecodeParams(params); err != nil {
		return nil, err
	}
	if len(params.Statements) == 0 {
		return nil, errors.New("params.statements is required")
	}
	return &SQLUnit{ref: def.Ref, db: c.DB, statements: params.Statements}, nil
}

type SQLUnit struct {
	ref        ref.Reference
	db         *gorm.DB
	statements []string
}

func (u *SQLUnit) Ref() ref.Reference { return u.ref }

func (u *SQLUnit) Execute(ctx context.Context) Result {
	logger := log.FromContextOrDiscard(ctx).WithValues("job", u.ref.String())
	err := u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, stmt := range u.statements {
			result := tx.Exec(stmt)
			if result.Error != nil {
				return errors.Wrapf(result.Error, "statement %d", i+1)
			}
			logger.V(1).Info("executed", "statement", i+1, "rows", result.RowsAffected)
		}
		return nil
	})
	if err == nil {
		return Succeeded()
	}
	return ClassifySQLError(ctx, err)
}

// ClassifySQLError treats contention and data errors as failures, anything else as a defect.
func ClassifySQLError(ctx context.Context, err error) Result {
	if ctx.Err() != nil {
		return Failed("%v", err)
	}
	var myerr *mysql.MySQLError
	if errors.As(err, &myerr) {
		switch myerr.Number {
		case mysqlerr.ER_LOCK_WAIT_TIMEOUT,
			mysqlerr.ER_LOCK_DEADLOCK,
			mysqlerr.ER_DUP_ENTRY,
			mysqlerr.ER_NO_REFERENCED_ROW_2,
			mysqlerr.ER_DATA_TOO_LONG,
			mysqlerr.ER_TRUNCATED_WRONG_VALUE:
			return Failed("%v", err)
		}
	}
	return Errored(err)
}
