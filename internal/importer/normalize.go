package importer

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// metricKind labels what a column measures, independent of which location
// (if any) it belongs to.
type metricKind int

const (
	kindNone metricKind = iota
	kindDate
	kindRevenue
	kindRentalRevenue
	kindContract
	kindReservation
	kindPayroll
	kindWageHours
)

// signalKinds is the maintained list of signal-bearing fields: a row with
// no non-placeholder value in any of these produces no records at all.
var signalKinds = map[metricKind]bool{
	kindRevenue:       true,
	kindRentalRevenue: true,
	kindContract:      true,
	kindReservation:   true,
}

func metricKindFor(header string) metricKind {
	h := strings.ToLower(strings.TrimSpace(header))
	switch {
	case strings.Contains(h, "week ending"), strings.Contains(h, "pay period"), h == "date", strings.Contains(h, "period ending"):
		return kindDate
	case strings.Contains(h, "payroll"):
		return kindPayroll
	case strings.Contains(h, "wage hours"), strings.Contains(h, "hours"):
		return kindWageHours
	case strings.Contains(h, "reservation"):
		return kindReservation
	case strings.Contains(h, "contract"):
		return kindContract
	case strings.Contains(h, "rental revenue"):
		return kindRentalRevenue
	case strings.Contains(h, "revenue"):
		return kindRevenue
	}
	return kindNone
}

// ParseDate accepts MM/DD/YY, MM/DD/YYYY and ISO 8601 dates. Two-digit
// years resolve with a century pivot: <50 lands in the 2000s.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("importer: empty date")
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Truncate(24 * time.Hour), nil
	}
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("importer: unparseable date %q", s)
	}
	month, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return time.Time{}, fmt.Errorf("importer: unparseable date %q", s)
	}
	day, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return time.Time{}, fmt.Errorf("importer: unparseable date %q", s)
	}
	yearText := strings.TrimSpace(parts[2])
	year, err := strconv.Atoi(yearText)
	if err != nil {
		return time.Time{}, fmt.Errorf("importer: unparseable date %q", s)
	}
	if len(yearText) <= 2 {
		if year < 50 {
			year += 2000
		} else {
			year += 1900
		}
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, fmt.Errorf("importer: date %q out of range", s)
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || t.Month() != time.Month(month) {
		return time.Time{}, fmt.Errorf("importer: date %q out of range", s)
	}
	return t, nil
}

// NormalizeWeekEnding rolls a date forward to the configured week-ending
// weekday. A date already on that weekday is unchanged.
func NormalizeWeekEnding(t time.Time, weekEnding time.Weekday) time.Time {
	offset := (int(weekEnding) - int(t.Weekday()) + 7) % 7
	return t.AddDate(0, 0, offset)
}

// ParseAmount cleans raw cell text into a numeric value. It strips currency
// symbols, thousands separators, and parenthesis-as-negative notation.
// Blank, "0", "$0" and placeholder tokens yield (0, false, nil): stored as
// zero but carrying no business signal.
func ParseAmount(s string) (float64, bool, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "-", "n/a", "na", "none":
		return 0, false, nil
	}
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	s = strings.NewReplacer("$", "", ",", "", " ", "", "%", "").Replace(s)
	if s == "" || s == "-" {
		return 0, false, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false, fmt.Errorf("importer: non-numeric value %q", strings.TrimSpace(s))
	}
	if negative {
		d = d.Neg()
	}
	value, _ := d.Float64()
	return value, !d.IsZero(), nil
}

// RowRecords is the normalized output of one spreadsheet row: one aggregate
// record plus per-location metrics for locations whose own columns carried
// signal. Historical extracts without location breakdown yield Locations
// empty; the importer never fabricates zero-valued location rows.
type RowRecords struct {
	PeriodEnding time.Time
	Aggregate    Metrics
	Locations    map[string]Metrics
}

// Normalizer converts raw rows into typed records using a column
// classification. It is a pure transformation; it writes nothing.
type Normalizer struct {
	classification map[string]string
	aggregate      string
	weekEnding     time.Weekday
	normalizeWeek  bool
}

// NewNormalizer builds a Normalizer for one parsed file.
// normalizeWeek enables week-ending alignment (scorecard extracts).
func NewNormalizer(classification map[string]string, aggregateCode string, weekEnding time.Weekday, normalizeWeek bool) *Normalizer {
	return &Normalizer{
		classification: classification,
		aggregate:      aggregateCode,
		weekEnding:     weekEnding,
		normalizeWeek:  normalizeWeek,
	}
}

// NormalizeRow produces zero or one record set for a raw row. A row whose
// signal-bearing fields are all placeholders returns (nil, nil): blank
// trailer rows and far-future placeholders import nothing. Unparseable
// dates or values return an error so the caller can skip and count the row.
func (n *Normalizer) NormalizeRow(row map[string]string) (*RowRecords, error) {
	var (
		periodEnding time.Time
		haveDate     bool
		aggregate    Metrics
		locations    = make(map[string]Metrics)
		locSignal    = make(map[string]bool)
		hasSignal    bool
	)

	for header, raw := range row {
		kind := metricKindFor(header)
		if kind == kindNone {
			continue
		}
		location, ok := n.classification[header]
		if !ok {
			location = n.aggregate
		}
		if kind == kindDate {
			if location != n.aggregate {
				continue
			}
			parsed, err := ParseDate(raw)
			if err != nil {
				return nil, err
			}
			if n.normalizeWeek {
				parsed = NormalizeWeekEnding(parsed, n.weekEnding)
			}
			periodEnding = parsed
			haveDate = true
			continue
		}
		value, signal, err := ParseAmount(raw)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", header, err)
		}
		if location == n.aggregate {
			applyMetric(&aggregate, kind, value)
		} else {
			metrics := locations[location]
			applyMetric(&metrics, kind, value)
			locations[location] = metrics
			if signal && signalKinds[kind] {
				locSignal[location] = true
			}
		}
		if signal && signalKinds[kind] {
			hasSignal = true
		}
	}

	if !hasSignal {
		return nil, nil
	}
	if !haveDate {
		return nil, fmt.Errorf("importer: row has no period-end date column")
	}

	// Emit a location record only when that location's own columns carried
	// signal; aggregate-only eras must not grow zero-valued location rows.
	emitted := make(map[string]Metrics, len(locSignal))
	for code := range locSignal {
		emitted[code] = locations[code]
	}
	return &RowRecords{PeriodEnding: periodEnding, Aggregate: aggregate, Locations: emitted}, nil
}

func applyMetric(m *Metrics, kind metricKind, value float64) {
	switch kind {
	case kindRevenue:
		m.Revenue += value
	case kindRentalRevenue:
		m.RentalRevenue += value
	case kindContract:
		m.ContractCount += value
	case kindReservation:
		m.ReservationTotal += value
	case kindPayroll:
		m.PayrollCost += value
	case kindWageHours:
		m.WageHours += value
	}
}

// equipmentColumns maps tolerant header spellings onto catalog fields.
var equipmentColumns = map[string]string{
	"itemnum":      "item_number",
	"item number":  "item_number",
	"item #":       "item_number",
	"key":          "item_number",
	"name":         "name",
	"description":  "name",
	"category":     "category",
	"subcategory":  "sub_category",
	"sub category": "sub_category",
	"loc":          "location",
	"location":     "location",
	"home store":   "location",
	"qty":          "quantity",
	"quantity":     "quantity",
	"sell price":   "sell_price",
	"sellprice":    "sell_price",
	"rate":         "rental_rate",
	"period":       "rental_rate",
	"period/rate":  "rental_rate",
	"inactive":     "inactive",
}

// EquipmentFromRow maps one catalog row to an EquipmentRecord. Rows with a
// blank item number carry no signal and return (nil, nil).
func EquipmentFromRow(row map[string]string) (*EquipmentRecord, error) {
	record := &EquipmentRecord{}
	for header, raw := range row {
		field, ok := equipmentColumns[normalizeHeaderKey(header)]
		if !ok {
			continue
		}
		raw = strings.TrimSpace(raw)
		switch field {
		case "item_number":
			record.ItemNumber = raw
		case "name":
			record.Name = raw
		case "category":
			record.Category = raw
		case "sub_category":
			record.SubCategory = raw
		case "location":
			record.LocationCode = raw
		case "quantity":
			value, _, err := ParseAmount(raw)
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", header, err)
			}
			record.Quantity = value
		case "sell_price":
			value, _, err := ParseAmount(raw)
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", header, err)
			}
			record.SellPrice = value
		case "rental_rate":
			value, _, err := ParseAmount(raw)
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", header, err)
			}
			record.RentalRate = value
		case "inactive":
			lower := strings.ToLower(raw)
			record.Inactive = lower == "true" || lower == "yes" || lower == "1"
		}
	}
	if record.ItemNumber == "" {
		return nil, nil
	}
	return record, nil
}
