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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/VividCortex/mysqlerr"
	"github.com/glebarez/sqlite"
	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"kubegems.io/jobnet/pkg/jobnet/ref"
)

func TestStatusExitCode(t *testing.T) {
	tests := []struct {
		status Status
		code   int
		text   string
	}{
		{status: Success, code: 0, text: "success"},
		{status: Failure, code: 1, text: "failure"},
		{status: Error, code: 2, text: "error"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.status.ExitCode())
			assert.Equal(t, tt.status, StatusOfExitCode(tt.code))
			assert.Equal(t, tt.text, tt.status.String())
			parsed, err := ParseStatus(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.status, parsed)
		})
	}
	assert.Equal(t, Error, StatusOfExitCode(137))
	assert.Equal(t, Error, StatusOfExitCode(-1))
}

func TestSidecar(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.json")
	require.NoError(t, WriteSidecar(path, Failed("exit status %d", 3)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"failure","message":"exit status 3"}`, string(data))

	got, err := ReadSidecar(path)
	require.NoError(t, err)
	assert.Equal(t, Result{Status: Failure, Message: "exit status 3"}, got)

	require.NoError(t, os.WriteFile(path, []byte(`{"status":"unknown"}`), 0o600))
	_, err = ReadSidecar(path)
	assert.Error(t, err)

	_, err = ReadSidecar(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r, nil))
	assert.Equal(t, []string{ClassShell, ClassSQL, ClassTouch, ClassWaitFor}, r.Names())
	assert.Error(t, r.Register(ClassShell, ShellClass()))
	assert.Panics(t, func() { r.MustRegister(ClassTouch, TouchClass()) })
	_, ok := r.Lookup("spark")
	assert.False(t, ok)
}

func writeJob(t *testing.T, home string, r ref.Reference, content string) {
	t.Helper()
	path := r.Path(home)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newCompiler(t *testing.T, db *gorm.DB) (*FileCompiler, string) {
	home := t.TempDir()
	registry := NewRegistry()
	require.NoError(t, RegisterBuiltins(registry, db))
	return NewFileCompiler(home, registry), home
}

func TestCompileErrors(t *testing.T) {
	compiler, home := newCompiler(t, nil)
	writeJob(t, home, ref.Job("dwh", "noclass"), "params: {command: 'true'}\n")
	writeJob(t, home, ref.Job("dwh", "unknown"), "class: spark\n")
	writeJob(t, home, ref.Job("dwh", "nocommand"), "class: shell\n")
	writeJob(t, home, ref.Job("dwh", "broken"), "class: [shell\n")
	writeJob(t, home, ref.Job("dwh", "nodb"), "class: sql\nparams:\n  statements: ['select 1']\n")
	writeJob(t, home, ref.Job("dwh", "badwait"), "class: wait-for\nparams:\n  path: x\n  interval: -1s\n")

	tests := []struct {
		name    string
		ref     ref.Reference
		wantMsg string
	}{
		{name: "missing file", ref: ref.Job("dwh", "absent"), wantMsg: "absent.job"},
		{name: "no class", ref: ref.Job("dwh", "noclass"), wantMsg: "class is required"},
		{name: "unknown class", ref: ref.Job("dwh", "unknown"), wantMsg: `unknown class "spark"`},
		{name: "no command", ref: ref.Job("dwh", "nocommand"), wantMsg: "params.command is required"},
		{name: "bad yaml", ref: ref.Job("dwh", "broken"), wantMsg: "parse"},
		{name: "no database", ref: ref.Job("dwh", "nodb"), wantMsg: "need a database"},
		{name: "bad interval", ref: ref.Job("dwh", "badwait"), wantMsg: "must be positive"},
		{name: "jobnet", ref: ref.Net("dwh", "daily"), wantMsg: "not a job reference"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compiler.Compile(context.Background(), tt.ref)
			require.Error(t, err)
			var cerr *ConfigurationError
			require.True(t, errors.As(err, &cerr), "got %T", err)
			assert.True(t, cerr.Ref.Equal(tt.ref))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestShell(t *testing.T) {
	compiler, home := newCompiler(t, nil)
	writeJob(t, home, ref.Job("dwh", "ok"), "class: shell\nparams:\n  command: echo $GREETING > out.txt\n  env:\n    GREETING: hello\n")
	writeJob(t, home, ref.Job("dwh", "fails"), "class: shell\nparams:\n  command: echo broken input >&2; exit 3\n")
	writeJob(t, home, ref.Job("dwh", "slow"), "class: shell\ntimeout: 100ms\nparams:\n  command: sleep 5\n")

	ctx := context.Background()
	run := func(name string) Result {
		unit, err := compiler.Compile(ctx, ref.Job("dwh", name))
		require.NoError(t, err)
		assert.Equal(t, "dwh/"+name, unit.Ref().String())
		return unit.Execute(ctx)
	}

	assert.Equal(t, Succeeded(), run("ok"))
	data, err := os.ReadFile(filepath.Join(home, "dwh", "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))

	failed := run("fails")
	assert.Equal(t, Failure, failed.Status)
	assert.Contains(t, failed.Message, "exit status 3")
	assert.Contains(t, failed.Message, "broken input")

	start := time.Now()
	slow := run("slow")
	assert.Equal(t, Failure, slow.Status)
	assert.Contains(t, slow.Message, "timed out")
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestTailBuffer(t *testing.T) {
	b := &tailBuffer{max: 4}
	_, _ = b.Write([]byte("abc"))
	_, _ = b.Write([]byte("defg"))
	assert.Equal(t, "defg", b.String())
}

func TestWaitForAndTouch(t *testing.T) {
	compiler, home := newCompiler(t, nil)
	writeJob(t, home, ref.Job("mart", "wait"), "class: wait-for\nparams:\n  path: markers/dwh.done\n  interval: 10ms\n  timeout: 2s\n")
	writeJob(t, home, ref.Job("mart", "nowait"), "class: wait-for\nparams:\n  path: markers/never\n  interval: 10ms\n  timeout: 50ms\n")
	writeJob(t, home, ref.Job("dwh", "done"), "class: touch\nparams:\n  path: markers/dwh.done\n")

	ctx := context.Background()
	compile := func(r ref.Reference) Unit {
		unit, err := compiler.Compile(ctx, r)
		require.NoError(t, err)
		return unit
	}

	missing := compile(ref.Job("mart", "nowait")).Execute(ctx)
	assert.Equal(t, Failure, missing.Status)
	assert.Contains(t, missing.Message, "not found within")

	wait := compile(ref.Job("mart", "wait"))
	touch := compile(ref.Job("dwh", "done"))
	results := make(chan Result, 1)
	go func() { results <- wait.Execute(ctx) }()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, Succeeded(), touch.Execute(ctx))
	select {
	case res := <-results:
		assert.Equal(t, Succeeded(), res)
	case <-time.After(2 * time.Second):
		t.Fatal("wait-for did not see the marker")
	}
	assert.FileExists(t, filepath.Join(home, "markers", "dwh.done"))
}

func TestSQL(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	defer sqlDB.Close()

	compiler, home := newCompiler(t, db)
	writeJob(t, home, ref.Job("dwh", "load"), `class: sql
params:
  statements:
    - CREATE TABLE orders (id INTEGER PRIMARY KEY, amount INTEGER)
    - INSERT INTO orders (id, amount) VALUES (1, 10), (2, 20)
`)
	writeJob(t, home, ref.Job("dwh", "bad"), "class: sql\nparams:\n  statements: ['SELEC nothing']\n")

	ctx := context.Background()
	unit, err := compiler.Compile(ctx, ref.Job("dwh", "load"))
	require.NoError(t, err)
	assert.Equal(t, Succeeded(), unit.Execute(ctx))

	var count int64
	require.NoError(t, db.Table("orders").Count(&count).Error)
	assert.Equal(t, int64(2), count)

	unit, err = compiler.Compile(ctx, ref.Job("dwh", "bad"))
	require.NoError(t, err)
	res := unit.Execute(ctx)
	assert.Equal(t, Error, res.Status)
	assert.Contains(t, res.Message, "statement 1")
}

func TestClassifySQLError(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		err  error
		want Status
	}{
		{name: "deadlock", err: &mysql.MySQLError{Number: 1213, Message: "Deadlock found"}, want: Failure},
		{name: "lock wait", err: errors.Wrap(&mysql.MySQLError{Number: 1205}, "statement 2"), want: Failure},
		{name: "duplicate", err: &mysql.MySQLError{Number: 1062}, want: Failure},
		{name: "syntax", err: &mysql.MySQLError{Number: 1064}, want: Error},
		{name: "other", err: errors.New("driver: bad connection"), want: Error},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifySQLError(ctx, tt.err).Status)
		})
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Equal(t, Failure, ClassifySQLError(canceled, errors.New("context canceled")).Status)
}

func TestSQLOnMySQL(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer sqlDB.Close()
	db, err := gorm.Open(gormmysql.New(gormmysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)

	const stmt = "UPDATE orders SET loaded = 1 WHERE loaded = 0"
	tests := []struct {
		name string
		err  error
		want Status
	}{
		{name: "committed", want: Success},
		{name: "deadlock", err: &mysql.MySQLError{Number: mysqlerr.ER_LOCK_DEADLOCK, Message: "Deadlock found"}, want: Failure},
		{name: "truncated", err: &mysql.MySQLError{Number: mysqlerr.ER_DATA_TOO_LONG, Message: "Data too long"}, want: Failure},
		{name: "unknown table", err: &mysql.MySQLError{Number: mysqlerr.ER_NO_SUCH_TABLE, Message: "Table doesn't exist"}, want: Error},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock.ExpectBegin()
			if tt.err == nil {
				mock.ExpectExec(stmt).WillReturnResult(sqlmock.NewResult(0, 3))
				mock.ExpectCommit()
			} else {
				mock.ExpectExec(stmt).WillReturnError(tt.err)
				mock.ExpectRollback()
			}
			unit := &SQLUnit{ref: ref.Job("dwh", "load"), db: db, statements: []string{stmt}}
			assert.Equal(t, tt.want, unit.Execute(context.Background()).Status)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
