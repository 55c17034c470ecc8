package http

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBAdminHandler provides generic database browsing for the operator UI.
// Only reads, never writes; table names are validated against the catalog
// before being interpolated.
type DBAdminHandler struct {
	pool   *pgxpool.Pool
	schema string
}

func NewDBAdminHandler(pool *pgxpool.Pool, schema string) *DBAdminHandler {
	return &DBAdminHandler{pool: pool, schema: schema}
}

// Columns masked in row output. session_token and rdp_password are
// capabilities; ciphertexts stay opaque even to operators.
var sensitivePatterns = []string{"password", "secret", "token", "ciphertext", "api_key"}

func isSensitiveColumn(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range sensitivePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// ListTables returns all tables with approximate row counts
// GET /tables
func (h *DBAdminHandler) ListTables(c *gin.Context) {
	rows, err := h.pool.Query(c.Request.Context(), `
		SELECT t.table_name, COALESCE(s.n_live_tup, 0)::int AS row_count
		FROM information_schema.tables t
		LEFT JOIN pg_stat_user_tables s
		  ON s.schemaname = t.table_schema AND s.relname = t.table_name
		WHERE t.table_schema = $1 AND t.table_type = 'BASE TABLE'
		ORDER BY t.table_name
	`, h.schema)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer rows.Close()

	type tableInfo struct {
		Name     string `json:"name"`
		RowCount int    `json:"row_count"`
	}
	var tables []tableInfo
	for rows.Next() {
		var t tableInfo
		if err := rows.Scan(&t.Name, &t.RowCount); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		tables = append(tables, t)
	}
	if tables == nil {
		tables = []tableInfo{}
	}

	c.JSON(http.StatusOK, gin.H{"tables": tables})
}

// GetTableSchema returns column definitions for a table
// GET /tables/:table/schema
func (h *DBAdminHandler) GetTableSchema(c *gin.Context) {
	table := c.Param("table")
	if !h.tableExists(c.Request.Context(), table) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("table %q not found", table)})
		return
	}

	rows, err := h.pool.Query(c.Request.Context(), `
		SELECT column_name, data_type, is_nullable, column_default
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`, h.schema, table)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer rows.Close()

	type columnInfo struct {
		Name     string  `json:"name"`
		Type     string  `json:"type"`
		Nullable bool    `json:"nullable"`
		Default  *string `json:"default,omitempty"`
		Masked   bool    `json:"masked"`
	}

	var columns []columnInfo
	for rows.Next() {
		var col columnInfo
		var isNullable string
		if err := rows.Scan(&col.Name, &col.Type, &isNullable, &col.Default); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		col.Nullable = isNullable == "YES"
		col.Masked = isSensitiveColumn(col.Name)
		columns = append(columns, col)
	}
	if columns == nil {
		columns = []columnInfo{}
	}

	c.JSON(http.StatusOK, gin.H{"table": table, "columns": columns})
}

// QueryRows returns paginated rows with optional sort
// GET /tables/:table/rows?page=1&page_size=50&sort_by=created_at&sort_order=desc
func (h *DBAdminHandler) QueryRows(c *gin.Context) {
	table := c.Param("table")
	if !h.tableExists(c.Request.Context(), table) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("table %q not found", table)})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "50"))
	sortBy := c.Query("sort_by")
	sortOrder := c.DefaultQuery("sort_order", "desc")

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 50
	}
	if sortOrder != "asc" && sortOrder != "desc" {
		sortOrder = "desc"
	}

	ctx := c.Request.Context()
	columns := h.columnNames(ctx, table)
	if len(columns) == 0 {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not read column info"})
		return
	}

	if sortBy != "" {
		valid := false
		for _, name := range columns {
			if name == sortBy {
				valid = true
				break
			}
		}
		if !valid {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid sort_by column: %q", sortBy)})
			return
		}
	}

	qualifiedTable := fmt.Sprintf("%q.%q", h.schema, table)

	var total int
	if err := h.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+qualifiedTable).Scan(&total); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	orderSQL := ""
	if sortBy != "" {
		orderSQL = fmt.Sprintf("ORDER BY %q %s", sortBy, sortOrder)
	}

	offset := (page - 1) * pageSize
	dataQuery := fmt.Sprintf("SELECT * FROM %s %s LIMIT $1 OFFSET $2", qualifiedTable, orderSQL)

	dataRows, err := h.pool.Query(ctx, dataQuery, pageSize, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer dataRows.Close()

	fields := dataRows.FieldDescriptions()
	var results []map[string]interface{}
	for dataRows.Next() {
		values, err := dataRows.Values()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		row := make(map[string]interface{}, len(fields))
		for i, fd := range fields {
			name := string(fd.Name)
			if isSensitiveColumn(name) {
				row[name] = "***"
			} else {
				row[name] = formatValue(values[i])
			}
		}
		results = append(results, row)
	}
	if results == nil {
		results = []map[string]interface{}{}
	}

	c.JSON(http.StatusOK, gin.H{
		"table":     table,
		"rows":      results,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// formatValue converts pgx native types to JSON-friendly representations.
// In particular, [16]byte (UUID) is formatted as a standard UUID string.
func formatValue(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case [16]byte:
		h := hex.EncodeToString(val[:])
		return h[:8] + "-" + h[8:12] + "-" + h[12:16] + "-" + h[16:20] + "-" + h[20:]
	default:
		return v
	}
}

func (h *DBAdminHandler) tableExists(ctx context.Context, table string) bool {
	var exists bool
	h.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = $2 AND table_type = 'BASE TABLE'
		)
	`, h.schema, table).Scan(&exists)
	return exists
}

func (h *DBAdminHandler) columnNames(ctx context.Context, table string) []string {
	rows, err := h.pool.Query(ctx, `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`, h.schema, table)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		rows.Scan(&name)
		cols = append(cols, name)
	}
	return cols
}
