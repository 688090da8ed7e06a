package storage

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/Sriram-PR/proceedings-scraper/pkg/utils"
)

const (
	fieldCreatedAt = "created_at"
	fieldUpdatedAt = "updated_at"
	fieldLastRun   = "last_run"
	fieldMongoID   = "_id"
)

// validateQuery rejects filters and sort keys the backends cannot evaluate as plain equality
func validateQuery(filter Filter, sortBy string, known map[string]bool) error {
	for field, value := range filter {
		if err := validateField(field, known); err != nil {
			return err
		}
		if !isScalar(value) {
			return fmt.Errorf("%w: filter on '%s' has non-scalar value of type %T", utils.ErrInvalidQuery, field, value)
		}
	}
	if sortBy != "" {
		if err := validateField(sortBy, known); err != nil {
			return err
		}
	}
	return nil
}

func validateField(field string, known map[string]bool) error {
	switch {
	case field == "":
		return fmt.Errorf("%w: empty field name", utils.ErrInvalidQuery)
	case strings.HasPrefix(field, "$"):
		return fmt.Errorf("%w: operator '%s' is not a field", utils.ErrInvalidQuery, field)
	case strings.Contains(field, "."):
		return fmt.Errorf("%w: nested field '%s' is not supported", utils.ErrInvalidQuery, field)
	case known != nil && !known[field]:
		return fmt.Errorf("%w: unknown field '%s'", utils.ErrInvalidQuery, field)
	}
	return nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}

// jsonFields returns the JSON field names of a struct type, including embedded structs
func jsonFields(t reflect.Type) map[string]bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	fields := make(map[string]bool)
	if t.Kind() != reflect.Struct {
		return fields
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if f.Anonymous && name == "" {
			for k := range jsonFields(f.Type) {
				fields[k] = true
			}
			continue
		}
		if name == "" {
			name = f.Name
		}
		fields[name] = true
	}
	return fields
}

// matches reports whether doc satisfies every equality condition in filter
func matches(doc Document, filter Filter) bool {
	for field, want := range filter {
		got, ok := doc[field]
		if want == nil {
			if ok && got != nil {
				return false
			}
			continue
		}
		if !ok || compareValues(got, want) != 0 {
			return false
		}
	}
	return true
}

// compareValues orders nil < bool < number < time < string, comparing numbers numerically.
// Strings that both parse as RFC 3339 timestamps compare as times.
func compareValues(a, b any) int {
	ra, rb := rankOf(a), rankOf(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case rankNil:
		return 0
	case rankBool:
		ab, bb := a.(bool), b.(bool)
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		}
		return 1
	case rankNumber:
		fa, fb := toFloat(a), toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case rankTime:
		ta, tb := toTime(a), toTime(b)
		return ta.Compare(tb)
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

const (
	rankNil = iota
	rankBool
	rankNumber
	rankTime
	rankString
)

func rankOf(v any) int {
	switch x := v.(type) {
	case nil:
		return rankNil
	case bool:
		return rankBool
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return rankNumber
	case time.Time:
		return rankTime
	case string:
		if _, err := time.Parse(time.RFC3339Nano, x); err == nil {
			return rankTime
		}
	}
	return rankString
}

func toFloat(v any) float64 {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}
	return 0
}

func toTime(v any) time.Time {
	switch x := v.(type) {
	case time.Time:
		return x
	case string:
		t, _ := time.Parse(time.RFC3339Nano, x)
		return t
	}
	return time.Time{}
}

// applyQuery filters, sorts and pages docs in memory
func applyQuery(docs []Document, q Query) []Document {
	out := docs[:0]
	for _, d := range docs {
		if matches(d, q.Filter) {
			out = append(out, d)
		}
	}
	if q.SortBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			c := compareValues(out[i][q.SortBy], out[j][q.SortBy])
			if q.Descending {
				return c > 0
			}
			return c < 0
		})
	}
	if q.Offset > 0 {
		if q.Offset >= len(out) {
			return []Document{}
		}
		out = out[q.Offset:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}
