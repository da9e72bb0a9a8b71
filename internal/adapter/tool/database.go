package tool

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"

	"mcpchat/internal/domain"
	"mcpchat/internal/infra/tracer"
)

var databaseNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// statementVerbs lists the leading SQL keywords each operation accepts.
var statementVerbs = map[string][]string{
	"query":  {"SELECT", "WITH", "PRAGMA", "EXPLAIN"},
	"insert": {"INSERT", "REPLACE", "CREATE"},
	"update": {"UPDATE", "ALTER"},
	"delete": {"DELETE", "DROP"},
}

// DatabaseTool runs SQL against named SQLite databases kept in one directory.
// Each database name maps to <dataDir>/<name>.db.
type DatabaseTool struct {
	dataDir string
	timeout time.Duration
	maxRows int
	logger  *slog.Logger
}

// NewDatabaseTool creates a database tool rooted at dataDir.
func NewDatabaseTool(dataDir string, timeout time.Duration, maxRows int, logger *slog.Logger) (*DatabaseTool, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxRows <= 0 {
		maxRows = 100
	}
	return &DatabaseTool{dataDir: dataDir, timeout: timeout, maxRows: maxRows, logger: logger}, nil
}

func (t *DatabaseTool) Name() string        { return "database" }
func (t *DatabaseTool) Description() string { return "Query and manipulate databases" }

// Capabilities implements domain.CapabilityLister.
func (t *DatabaseTool) Capabilities() []string {
	return []string{"query", "insert", "update", "delete"}
}

func (t *DatabaseTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"operation": {"type": "string", "enum": ["query", "insert", "update", "delete"], "description": "Kind of statement"},
				"query": {"type": "string", "description": "A single SQL statement"},
				"database": {"type": "string", "description": "Database name (letters, digits, _ and -)"}
			},
			"required": ["operation", "query", "database"]
		}`),
	}
}

// DeriveParams runs the message as a query against the main database.
func (t *DatabaseTool) DeriveParams(message string) json.RawMessage {
	data, _ := json.Marshal(databaseParams{Operation: "query", Query: message, Database: "main"})
	return data
}

type databaseParams struct {
	Operation string `json:"operation"`
	Query     string `json:"query"`
	Database  string `json:"database"`
}

type queryResult struct {
	Database  string           `json:"database"`
	Query     string           `json:"query"`
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	RowCount  int              `json:"rowCount"`
	Truncated bool             `json:"truncated,omitempty"`
}

type execResult struct {
	Database     string `json:"database"`
	Query        string `json:"query"`
	RowsAffected int64  `json:"rowsAffected"`
	Result       string `json:"result"`
}

func (t *DatabaseTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.database", t.logger, params,
		func(ctx context.Context, span trace.Span, p databaseParams) (any, error) {
			if err := t.validate(p); err != nil {
				return nil, err
			}
			span.SetAttributes(
				tracer.StringAttr("tool.action", p.Operation),
				tracer.StringAttr("tool.database", p.Database),
			)

			ctx, cancel := context.WithTimeout(ctx, t.timeout)
			defer cancel()

			db, err := sql.Open("sqlite", t.dsn(p))
			if err != nil {
				return nil, fmt.Errorf("open database %s: %w", p.Database, err)
			}
			defer db.Close()

			if p.Operation == "query" {
				return t.query(ctx, db, p)
			}
			res, err := db.ExecContext(ctx, p.Query)
			if err != nil {
				return nil, fmt.Errorf("%s on %s: %w", p.Operation, p.Database, err)
			}
			n, _ := res.RowsAffected()
			t.logger.Debug("database statement executed", "database", p.Database, "operation", p.Operation, "rows", n)
			return execResult{
				Database:     p.Database,
				Query:        p.Query,
				RowsAffected: n,
				Result:       "Database query executed successfully",
			}, nil
		},
	)
}

// dsn opens query connections with query_only set, so a WITH or PRAGMA
// statement cannot write through the read operation.
func (t *DatabaseTool) dsn(p databaseParams) string {
	path := filepath.Join(t.dataDir, p.Database+".db")
	if p.Operation == "query" {
		return path + "?_pragma=query_only(1)"
	}
	return path
}

func (t *DatabaseTool) validate(p databaseParams) error {
	if err := ValidateAll(
		RequireField("operation", p.Operation),
		ValidateEnum("operation", p.Operation, "query", "insert", "update", "delete"),
		RequireField("query", p.Query),
		RequireField("database", p.Database),
	); err != nil {
		return err
	}
	if !databaseNamePattern.MatchString(p.Database) {
		return invalidf("invalid database name %q", p.Database)
	}
	stmt := strings.TrimRight(strings.TrimSpace(p.Query), "; \t\n")
	if strings.Contains(stmt, ";") {
		return invalidf("only one statement per call is allowed")
	}
	verb := strings.ToUpper(firstWord(stmt))
	for _, v := range statementVerbs[p.Operation] {
		if verb == v {
			return nil
		}
	}
	return invalidf("%s statement not allowed for operation %q", verb, p.Operation)
}

func (t *DatabaseTool) query(ctx context.Context, db *sql.DB, p databaseParams) (any, error) {
	rows, err := db.QueryContext(ctx, p.Query)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", p.Database, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	out := queryResult{Database: p.Database, Query: p.Query, Columns: cols, Rows: []map[string]any{}}
	for rows.Next() {
		if len(out.Rows) == t.maxRows {
			out.Truncated = true
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = vals[i]
			}
		}
		out.Rows = append(out.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	out.RowCount = len(out.Rows)
	t.logger.Debug("database query executed", "database", p.Database, "rows", out.RowCount)
	return out, nil
}

func firstWord(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return strings.TrimLeft(f[0], "(")
	}
	return ""
}
