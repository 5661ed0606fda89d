package main

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/coupon"
)

const (
	minCodeLen = 3
	maxCodeLen = 32

	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
)

type fileResult struct {
	rules   []coupon.Rule
	invalid []error
}

func readFile(ctx context.Context, path string) (fileResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return fileResult{}, err
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return fileResult{}, errors.Wrap(err, "gzip")
	}
	defer func() { _ = gz.Close() }()

	return readCSV(ctx, gz)
}

func readCSV(ctx context.Context, r io.Reader) (fileResult, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	var res fileResult
	for line := 1; ; line++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			return res, errors.Wrapf(err, "line %d", line)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(record[0]), "code") {
			continue
		}
		rule, err := parseRecord(record)
		if err != nil {
			res.invalid = append(res.invalid, errors.Wrapf(err, "line %d", line))
			continue
		}
		res.rules = append(res.rules, rule)
	}
}

func parseRecord(record []string) (coupon.Rule, error) {
	if len(record) < 3 {
		return coupon.Rule{}, errors.Errorf("want at least 3 fields, got %d", len(record))
	}
	field := func(i int) string {
		if i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}

	rule := coupon.Rule{
		Code:         coupon.Normalize(field(0)),
		DiscountType: coupon.DiscountType(strings.ToLower(field(1))),
		Description:  field(4),
	}
	if n := len(rule.Code); n < minCodeLen || n > maxCodeLen {
		return coupon.Rule{}, errors.Errorf("code %q: length %d outside [%d, %d]", rule.Code, n, minCodeLen, maxCodeLen)
	}

	var err error
	if rule.Value, err = decimal.NewFromString(field(2)); err != nil {
		return coupon.Rule{}, errors.Wrap(err, "value")
	}
	switch rule.DiscountType {
	case coupon.DiscountPercentage:
		if rule.Value.IsNegative() || rule.Value.GreaterThan(decimal.NewFromInt(100)) {
			return coupon.Rule{}, errors.Errorf("percentage %s outside [0, 100]", rule.Value)
		}
	case coupon.DiscountFixed:
		if rule.Value.IsNegative() {
			return coupon.Rule{}, errors.Errorf("negative fixed value %s", rule.Value)
		}
	default:
		return coupon.Rule{}, errors.Errorf("unknown discount type %q", field(1))
	}

	if s := field(3); s != "" {
		if rule.MinAmount, err = decimal.NewFromString(s); err != nil {
			return coupon.Rule{}, errors.Wrap(err, "min_amount")
		}
	}
	if s := field(5); s != "" {
		until, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return coupon.Rule{}, errors.Wrap(err, "valid_until")
		}
		rule.ValidUntil = &until
	}
	if s := field(6); s != "" {
		if rule.MaxUses, err = strconv.Atoi(s); err != nil || rule.MaxUses < 0 {
			return coupon.Rule{}, errors.Errorf("max_uses %q", s)
		}
	}
	return rule, nil
}

// dedupe flattens per-file rules keeping the first occurrence of each code.
// The bloom filter answers "definitely new" for most codes; only its
// positives are confirmed against the exact set.
func dedupe(files [][]coupon.Rule) ([]coupon.Rule, int) {
	filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
	seen := make(map[string]struct{})

	var (
		out   []coupon.Rule
		dupes int
	)
	for _, rules := range files {
		for _, rule := range rules {
			if filter.TestOrAddString(rule.Code) {
				if _, ok := seen[rule.Code]; ok {
					dupes++
					continue
				}
			}
			seen[rule.Code] = struct{}{}
			out = append(out, rule)
		}
	}
	return out, dupes
}
