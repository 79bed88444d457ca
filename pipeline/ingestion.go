package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/multierr"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"bankpredict/ml"
)

var (
	// ErrEmptyBatch 文件中没有表头
	ErrEmptyBatch = errors.New("no columns to parse from file")
	// ErrHeaderMismatch 表头与样本字段不一致
	ErrHeaderMismatch = errors.New("batch header does not match sample columns")
	// ErrFieldCount 数据行字段数与表头不一致
	ErrFieldCount = errors.New("wrong number of fields")
)

// BatchOptions 批量文件解析配置
type BatchOptions struct {
	Separator rune
	Encoding  string
	Schema    []ml.Column
}

// DefaultBatchOptions 默认解析配置：分号分隔、UTF-8、样本字段表头
func DefaultBatchOptions() BatchOptions {
	return BatchOptions{
		Separator: ';',
		Encoding:  "utf-8",
		Schema:    ml.SampleSchema(),
	}
}

func (o BatchOptions) withDefaults() BatchOptions {
	def := DefaultBatchOptions()
	if o.Separator == 0 {
		o.Separator = def.Separator
	}
	if o.Encoding == "" {
		o.Encoding = def.Encoding
	}
	if len(o.Schema) == 0 {
		o.Schema = def.Schema
	}
	return o
}

// RowError 数据行解析错误
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// ParseBatch 解析批量预测文件，返回与输入行顺序一致的样本
func ParseBatch(r io.Reader, opts BatchOptions) ([]ml.Sample, error) {
	opts = opts.withDefaults()

	decoded, err := decodeReader(r, opts.Encoding)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(decoded)
	reader.Comma = opts.Separator
	// 字段数由 parseRow 按表头检查，以便返回带行号的 RowError
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrEmptyBatch
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	kinds, err := matchHeader(header, opts.Schema)
	if err != nil {
		return nil, err
	}

	samples := make([]ml.Sample, 0)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse batch: %w", err)
		}
		line, _ := reader.FieldPos(0)

		sample, err := parseRow(record, header, kinds)
		if err != nil {
			return nil, &RowError{Line: line, Err: err}
		}
		samples = append(samples, sample)
	}

	return samples, nil
}

// decodeReader 转码为UTF-8并去除BOM；声明为UTF-8时非法字节报错而不是替换
func decodeReader(r io.Reader, name string) (io.Reader, error) {
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unsupported encoding %q: %w", name, err)
	}
	decoder := unicode.BOMOverride(enc.NewDecoder())
	if canonical, _ := htmlindex.Name(enc); canonical == "utf-8" {
		return transform.NewReader(r, transform.Chain(encoding.UTF8Validator, decoder)), nil
	}
	return transform.NewReader(r, decoder), nil
}

// matchHeader 校验表头，返回每一列的类型
func matchHeader(header []string, schema []ml.Column) ([]ml.ColumnKind, error) {
	expected := make(map[string]ml.ColumnKind, len(schema))
	for _, c := range schema {
		expected[c.Name] = c.Kind
	}

	kinds := make([]ml.ColumnKind, len(header))
	seen := make(map[string]bool, len(header))
	var unknown, duplicate, missing []string
	for i, name := range header {
		if seen[name] {
			duplicate = append(duplicate, name)
			continue
		}
		seen[name] = true
		kind, ok := expected[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		kinds[i] = kind
	}
	for _, c := range schema {
		if !seen[c.Name] {
			missing = append(missing, c.Name)
		}
	}

	if len(unknown)+len(duplicate)+len(missing) == 0 {
		return kinds, nil
	}

	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing "+joinSorted(missing))
	}
	if len(unknown) > 0 {
		parts = append(parts, "unknown "+joinSorted(unknown))
	}
	if len(duplicate) > 0 {
		parts = append(parts, "duplicate "+joinSorted(duplicate))
	}
	return nil, fmt.Errorf("%w: %s", ErrHeaderMismatch, strings.Join(parts, "; "))
}

// parseRow 按列类型转换一行，收集该行所有错误
func parseRow(record, header []string, kinds []ml.ColumnKind) (ml.Sample, error) {
	var sample ml.Sample
	if len(record) != len(header) {
		return sample, fmt.Errorf("%w: expected %d, got %d", ErrFieldCount, len(header), len(record))
	}
	var errs error
	for i, raw := range record {
		name := header[i]
		switch kinds[i] {
		case ml.KindInt:
			value, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("column %q: invalid integer %q", name, raw))
				continue
			}
			errs = multierr.Append(errs, sample.Set(name, value))
		default:
			errs = multierr.Append(errs, sample.Set(name, raw))
		}
	}
	return sample, errs
}

func joinSorted(values []string) string {
	sorted := append([]string(nil), values...)
	sort.Strings(sorted)
	return "[" + strings.Join(sorted, ", ") + "]"
}
