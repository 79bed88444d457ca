package ml

import "fmt"

// Sample is one bank-marketing customer record, the model's input row.
type Sample struct {
	Age       int    `json:"age"`
	Job       string `json:"job"`
	Marital   string `json:"marital"`
	Education string `json:"education"`
	Default   string `json:"default"`
	Balance   int    `json:"balance"`
	Housing   string `json:"housing"`
	Loan      string `json:"loan"`
	Contact   string `json:"contact"`
	Day       int    `json:"day"`
	Month     string `json:"month"`
	Duration  int    `json:"duration"`
	Campaign  int    `json:"campaign"`
	Pdays     int    `json:"pdays"`
	Previous  int    `json:"previous"`
	Poutcome  string `json:"poutcome"`
}

// ColumnKind is the semantic type of a Sample column.
type ColumnKind string

const (
	KindInt    ColumnKind = "int"
	KindString ColumnKind = "string"
)

// Column describes one Sample field.
type Column struct {
	Name string
	Kind ColumnKind
}

var sampleColumns = []Column{
	{"age", KindInt},
	{"job", KindString},
	{"marital", KindString},
	{"education", KindString},
	{"default", KindString},
	{"balance", KindInt},
	{"housing", KindString},
	{"loan", KindString},
	{"contact", KindString},
	{"day", KindInt},
	{"month", KindString},
	{"duration", KindInt},
	{"campaign", KindInt},
	{"pdays", KindInt},
	{"previous", KindInt},
	{"poutcome", KindString},
}

// SampleSchema returns the Sample columns in training order.
func SampleSchema() []Column {
	return append([]Column(nil), sampleColumns...)
}

// SampleColumns returns the Sample column names in training order.
func SampleColumns() []string {
	names := make([]string, len(sampleColumns))
	for i, c := range sampleColumns {
		names[i] = c.Name
	}
	return names
}

// Row returns the sample's cells in SampleColumns order. Int fields are int64.
func (s Sample) Row() []any {
	return []any{
		int64(s.Age),
		s.Job,
		s.Marital,
		s.Education,
		s.Default,
		int64(s.Balance),
		s.Housing,
		s.Loan,
		s.Contact,
		int64(s.Day),
		s.Month,
		int64(s.Duration),
		int64(s.Campaign),
		int64(s.Pdays),
		int64(s.Previous),
		s.Poutcome,
	}
}

// Set assigns a parsed cell to the field named column.
func (s *Sample) Set(column string, value any) error {
	switch v := value.(type) {
	case int:
		return s.setInt(column, v)
	case string:
		return s.setString(column, v)
	default:
		return fmt.Errorf("column %q: unsupported value type %T", column, value)
	}
}

func (s *Sample) setInt(column string, v int) error {
	switch column {
	case "age":
		s.Age = v
	case "balance":
		s.Balance = v
	case "day":
		s.Day = v
	case "duration":
		s.Duration = v
	case "campaign":
		s.Campaign = v
	case "pdays":
		s.Pdays = v
	case "previous":
		s.Previous = v
	default:
		return fmt.Errorf("column %q is not an integer column", column)
	}
	return nil
}

func (s *Sample) setString(column string, v string) error {
	switch column {
	case "job":
		s.Job = v
	case "marital":
		s.Marital = v
	case "education":
		s.Education = v
	case "default":
		s.Default = v
	case "housing":
		s.Housing = v
	case "loan":
		s.Loan = v
	case "contact":
		s.Contact = v
	case "month":
		s.Month = v
	case "poutcome":
		s.Poutcome = v
	default:
		return fmt.Errorf("column %q is not a string column", column)
	}
	return nil
}

// Frame is a named-column table handed to a Predictor.
type Frame struct {
	Columns []string
	Rows    [][]any
}

// Len returns the number of rows.
func (f Frame) Len() int {
	return len(f.Rows)
}

// SamplesFrame builds a frame with SampleColumns from samples, preserving order.
func SamplesFrame(samples []Sample) Frame {
	rows := make([][]any, len(samples))
	for i, s := range samples {
		rows[i] = s.Row()
	}
	return Frame{Columns: SampleColumns(), Rows: rows}
}
