// internal/service/decode/decoder.go

package decode

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"trendwatch/internal/domain/trend"
)

// rpcID identifies the trending-list RPC inside the batch response. The
// surrounding envelope looks like:
//
//	)]}'
//	1234
//	[["wrb.fr","i0OFE","<json string>",null,null,null,"generic"]]
//
// where the quoted JSON string decodes to [null, [entry, entry, ...]] with
// one optional extra level of list nesting.
const rpcID = "i0OFE"

// antiJSONPrefix guards the response against direct script inclusion; the
// endpoint always emits it first.
const antiJSONPrefix = ")]}'"

// ErrEnvelope reports that the top-level response envelope could not be
// located at all. It is the only error Decode returns: it means the payload
// is not a response in the expected wire format (or the format changed), and
// the whole cycle produced nothing usable. Anything wrong below the envelope
// is confined to the single record it occurs in.
var ErrEnvelope = errors.New("decode: response envelope not found")

// Positional field paths within a single wire entry.
var (
	pathTitle     = []int{0}
	pathEntityID  = []int{1}
	pathVolume    = []int{3}
	pathGrowthPct = []int{4}
	pathStartedAt = []int{5}
	pathIsActive  = []int{6}
)

// Result carries the decoded records in payload order plus the count of
// entries that were present but unparsable.
type Result struct {
	Records []trend.Record
	Skipped int
}

// Decode recovers structured trend records from a raw batch-RPC response
// body. Records come out in the order the endpoint listed them; Rank is the
// 1-based position within that order, because the endpoint exposes no rank
// field and list order is the only ranking signal it gives. A malformed
// entry is skipped and counted, never fatal; only a missing envelope fails
// the whole decode.
func Decode(body []byte, geo string, categoryID int, fetchedAt time.Time) (Result, error) {
	payload, ok := envelopePayload(body)
	if !ok {
		return Result{}, ErrEnvelope
	}

	entries, ok := entryList(payload)
	if !ok {
		return Result{}, ErrEnvelope
	}

	var res Result
	for _, raw := range entries {
		entry, ok := raw.([]any)
		if !ok {
			res.Skipped++
			continue
		}

		rec, ok := decodeEntry(entry, geo, categoryID, fetchedAt)
		if !ok {
			res.Skipped++
			continue
		}

		rec.Rank = len(res.Records) + 1
		res.Records = append(res.Records, rec)
	}

	return res, nil
}

// envelopePayload locates the inner JSON string for our RPC inside the
// chunked batch response.
func envelopePayload(body []byte) (string, bool) {
	text := string(body)
	text = strings.TrimPrefix(text, antiJSONPrefix)

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isDigits(line) {
			continue
		}

		var parsed []any
		if err := json.Unmarshal([]byte(line), &parsed); err != nil {
			continue
		}

		for _, item := range parsed {
			frame, ok := item.([]any)
			if !ok || len(frame) < 3 {
				continue
			}
			if s, _ := frame[0].(string); s != "wrb.fr" {
				continue
			}
			if s, _ := frame[1].(string); s != rpcID {
				continue
			}
			if payload, ok := frame[2].(string); ok && payload != "" {
				return payload, true
			}
		}
	}

	return "", false
}

// entryList unwraps the inner payload down to the flat list of trend
// entries, tolerating the extra nesting level the endpoint sometimes adds.
func entryList(payload string) ([]any, bool) {
	var data []any
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return nil, false
	}
	if len(data) < 2 {
		return nil, false
	}

	outer, ok := data[1].([]any)
	if !ok {
		return nil, false
	}
	if len(outer) == 0 {
		return outer, true
	}

	if first, ok := outer[0].([]any); ok && len(first) > 0 {
		if _, nested := first[0].([]any); nested {
			// [null, [[entry, entry, ...]]]
			return first, true
		}
	}

	// [null, [entry, entry, ...]]
	return outer, true
}

// decodeEntry builds one Record from a positional wire entry. The title is
// the only required field; a type mismatch anywhere marks the entry
// unparsable, while fields the endpoint simply left off stay at their zero
// values.
func decodeEntry(entry []any, geo string, categoryID int, fetchedAt time.Time) (trend.Record, bool) {
	rec := trend.Record{
		Geo:        geo,
		CategoryID: categoryID,
		FetchedAt:  fetchedAt,
		IsActive:   true,
	}

	title, err := stringAt(entry, pathTitle...)
	if err != nil || title == "" {
		return trend.Record{}, false
	}
	rec.Title = title

	entityID, err := stringAt(entry, pathEntityID...)
	if errors.Is(err, errMismatch) {
		return trend.Record{}, false
	}
	rec.EntityID = entityID

	volume, err := stringAt(entry, pathVolume...)
	if errors.Is(err, errMismatch) {
		return trend.Record{}, false
	}
	rec.VolumeLabel = volume

	growth, err := numberAt(entry, pathGrowthPct...)
	if errors.Is(err, errMismatch) {
		return trend.Record{}, false
	}
	if err == nil {
		pct := int(growth)
		rec.GrowthPct = &pct
	}

	started, err := numberAt(entry, pathStartedAt...)
	if errors.Is(err, errMismatch) {
		return trend.Record{}, false
	}
	if err == nil {
		rec.StartedAt = time.Unix(int64(started), 0).UTC()
	}

	active, err := boolAt(entry, pathIsActive...)
	if errors.Is(err, errMismatch) {
		return trend.Record{}, false
	}
	if err == nil {
		rec.IsActive = active
	}

	return rec, true
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
