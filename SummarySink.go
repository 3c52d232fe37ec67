package Gozonal

import (
	"database/sql"
	"fmt"
	"log"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

// SummarySink 汇总记录的输出目标。
// 结构在写入前一次性创建，之后只追加记录。
type SummarySink interface {
	CreateSchema(fields []Field) error
	AddRecord(values []interface{}) error
	Destination() string
}

// MemorySummarySink 内存输出表
type MemorySummarySink struct {
	name    string
	Fields  []Field
	Records [][]interface{}
}

func NewMemorySummarySink(name string) *MemorySummarySink {
	return &MemorySummarySink{name: name}
}

func (s *MemorySummarySink) CreateSchema(fields []Field) error {
	s.Fields = fields
	s.Records = nil
	return nil
}

func (s *MemorySummarySink) AddRecord(values []interface{}) error {
	if len(values) != len(s.Fields) {
		return fmt.Errorf("记录字段数 %d 与输出结构 %d 不一致", len(values), len(s.Fields))
	}
	s.Records = append(s.Records, values)
	return nil
}

func (s *MemorySummarySink) Destination() string {
	return s.name
}

// SQLiteSummarySink 写入SQLite文件的输出表
type SQLiteSummarySink struct {
	db        *sql.DB
	path      string
	table     string
	insertSQL string
	fields    []Field
}

func NewSQLiteSummarySink(path, table string) (*SQLiteSummarySink, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}
	if table == "" {
		table = "summary"
	}
	return &SQLiteSummarySink{db: db, path: path, table: table}, nil
}

func sqliteType(t FieldType) string {
	switch t {
	case FieldInteger:
		return "INTEGER"
	case FieldReal:
		return "REAL"
	default:
		return "TEXT"
	}
}

func (s *SQLiteSummarySink) CreateSchema(fields []Field) error {
	s.fields = fields
	cols := make([]string, 0, len(fields))
	names := make([]string, 0, len(fields))
	marks := make([]string, 0, len(fields))
	for _, f := range fields {
		cols = append(cols, fmt.Sprintf("\"%s\" %s", f.Name, sqliteType(f.Type)))
		names = append(names, fmt.Sprintf("\"%s\"", f.Name))
		marks = append(marks, "?")
	}
	createSQL := fmt.Sprintf("CREATE TABLE IF NOT EXISTS \"%s\" (%s)", s.table, strings.Join(cols, ", "))
	if _, err := s.db.Exec(createSQL); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	s.insertSQL = fmt.Sprintf("INSERT INTO \"%s\" (%s) VALUES (%s)",
		s.table, strings.Join(names, ", "), strings.Join(marks, ", "))
	return nil
}

func (s *SQLiteSummarySink) AddRecord(values []interface{}) error {
	if len(values) != len(s.fields) {
		return fmt.Errorf("记录字段数 %d 与输出结构 %d 不一致", len(values), len(s.fields))
	}
	if _, err := s.db.Exec(s.insertSQL, values...); err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

func (s *SQLiteSummarySink) Destination() string {
	return s.path
}

func (s *SQLiteSummarySink) Close() error {
	return s.db.Close()
}

func dbColumnType(t FieldType) string {
	switch t {
	case FieldInteger:
		return "INTEGER"
	case FieldReal:
		return "DOUBLE PRECISION"
	default:
		return "TEXT"
	}
}

// SaveSummaryToDB 把内存汇总表写入数据库
func SaveSummaryToDB(DB *gorm.DB, summary *MemorySummarySink, tableName string) error {
	if summary == nil || len(summary.Fields) == 0 {
		return fmt.Errorf("汇总结果为空，无法入库")
	}

	cols := make([]string, 0, len(summary.Fields))
	names := make([]string, 0, len(summary.Fields))
	marks := make([]string, 0, len(summary.Fields))
	for _, f := range summary.Fields {
		cols = append(cols, fmt.Sprintf("\"%s\" %s", f.Name, dbColumnType(f.Type)))
		names = append(names, fmt.Sprintf("\"%s\"", f.Name))
		marks = append(marks, "?")
	}

	createSQL := fmt.Sprintf("CREATE TABLE IF NOT EXISTS \"%s\" (%s)", tableName, strings.Join(cols, ", "))
	if err := DB.Exec(createSQL).Error; err != nil {
		return fmt.Errorf("创建表失败: %v", err)
	}

	insertSQL := fmt.Sprintf("INSERT INTO \"%s\" (%s) VALUES (%s)",
		tableName, strings.Join(names, ", "), strings.Join(marks, ", "))
	for _, record := range summary.Records {
		if err := DB.Exec(insertSQL, record...).Error; err != nil {
			return fmt.Errorf("插入记录失败: %v", err)
		}
	}

	log.Printf("成功将汇总数据保存到表: %s", tableName)
	return nil
}
