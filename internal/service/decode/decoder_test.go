// internal/service/decode/decoder_test.go

package decode

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var fetchedAt = time.Date(2024, 11, 20, 12, 0, 0, 0, time.UTC)

// envelope wraps a list of wire entries in the full batch-RPC response
// framing: anti-JSON prefix, length chunks, and the wrb.fr frame whose third
// element is the inner payload serialized as a JSON string.
func envelope(t *testing.T, entries any) []byte {
	t.Helper()

	inner, err := json.Marshal([]any{nil, entries})
	require.NoError(t, err)

	frame, err := json.Marshal([]any{
		[]any{"wrb.fr", "i0OFE", string(inner), nil, nil, nil, "generic"},
	})
	require.NoError(t, err)

	return []byte(")]}'\n\n1234\n" + string(frame) + "\n25\n[[\"di\",59],[\"af.httprm\",59]]")
}

func TestDecodeWellFormedEntries(t *testing.T) {
	entries := []any{
		[]any{"Elden Ring", "/g/11abc", nil, "2K+", 150, 1700000000, true},
		[]any{"Silksong", nil, nil, "500+", nil, 1700003600, false},
		[]any{"Minecraft Update", "/g/11xyz", nil, "1M+", -20, 1700007200, 1},
	}

	res, err := Decode(envelope(t, entries), "US", 6, fetchedAt)
	require.NoError(t, err)
	require.Len(t, res.Records, 3)
	require.Zero(t, res.Skipped)

	first := res.Records[0]
	require.Equal(t, "Elden Ring", first.Title)
	require.Equal(t, "/g/11abc", first.EntityID)
	require.Equal(t, "US", first.Geo)
	require.Equal(t, 6, first.CategoryID)
	require.Equal(t, 1, first.Rank)
	require.Equal(t, "2K+", first.VolumeLabel)
	require.NotNil(t, first.GrowthPct)
	require.Equal(t, 150, *first.GrowthPct)
	require.Equal(t, time.Unix(1700000000, 0).UTC(), first.StartedAt)
	require.True(t, first.IsActive)
	require.Equal(t, fetchedAt, first.FetchedAt)

	second := res.Records[1]
	require.Equal(t, 2, second.Rank)
	require.Empty(t, second.EntityID)
	require.Nil(t, second.GrowthPct)
	require.False(t, second.IsActive)

	third := res.Records[2]
	require.Equal(t, 3, third.Rank)
	require.NotNil(t, third.GrowthPct)
	require.Equal(t, -20, *third.GrowthPct)
	require.True(t, third.IsActive)
}

func TestDecodeRanksFollowPayloadOrder(t *testing.T) {
	entries := []any{
		[]any{"charlie"},
		[]any{"alpha"},
		[]any{"bravo"},
	}

	res, err := Decode(envelope(t, entries), "GB", 6, fetchedAt)
	require.NoError(t, err)
	require.Len(t, res.Records, 3)
	for i, rec := range res.Records {
		require.Equal(t, i+1, rec.Rank)
	}
	require.Equal(t, "charlie", res.Records[0].Title)
	require.Equal(t, "alpha", res.Records[1].Title)
	require.Equal(t, "bravo", res.Records[2].Title)
}

func TestDecodeSkipsMalformedEntries(t *testing.T) {
	entries := []any{
		[]any{"good one", nil, nil, "500+"},
		[]any{12345, nil, nil, "2K+"}, // title is not a string
		"not even a list",
		[]any{"good two"},
		[]any{"good three", nil, nil, []any{"volume is not a string"}},
	}

	res, err := Decode(envelope(t, entries), "ID", 6, fetchedAt)
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	require.Equal(t, 3, res.Skipped)
	require.Equal(t, "good one", res.Records[0].Title)
	require.Equal(t, 1, res.Records[0].Rank)
	require.Equal(t, "good two", res.Records[1].Title)
	require.Equal(t, 2, res.Records[1].Rank)
}

func TestDecodeMissingTrailingFieldsAreAbsent(t *testing.T) {
	entries := []any{[]any{"bare title"}}

	res, err := Decode(envelope(t, entries), "US", 6, fetchedAt)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)

	rec := res.Records[0]
	require.Equal(t, "bare title", rec.Title)
	require.Empty(t, rec.EntityID)
	require.Empty(t, rec.VolumeLabel)
	require.Nil(t, rec.GrowthPct)
	require.True(t, rec.StartedAt.IsZero())
	require.True(t, rec.IsActive)
}

func TestDecodeIgnoresExtraElements(t *testing.T) {
	entries := []any{
		[]any{"padded", nil, nil, "500+", nil, nil, true, "mystery", []any{1, 2}, 99},
	}

	res, err := Decode(envelope(t, entries), "US", 6, fetchedAt)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	require.Equal(t, "padded", res.Records[0].Title)
}

func TestDecodeToleratesExtraNestingLevel(t *testing.T) {
	entries := []any{
		[]any{
			[]any{"nested a"},
			[]any{"nested b"},
		},
	}

	res, err := Decode(envelope(t, entries), "US", 6, fetchedAt)
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	require.Equal(t, "nested a", res.Records[0].Title)
	require.Equal(t, "nested b", res.Records[1].Title)
}

func TestDecodeEmptyList(t *testing.T) {
	res, err := Decode(envelope(t, []any{}), "US", 6, fetchedAt)
	require.NoError(t, err)
	require.Empty(t, res.Records)
	require.Zero(t, res.Skipped)
}

func TestDecodeMissingEnvelope(t *testing.T) {
	bodies := [][]byte{
		nil,
		[]byte(""),
		[]byte(`{"unexpected": "plain json"}`),
		[]byte(")]}'\n\n12\n[[\"wrb.fr\",\"other\",\"[]\"]]"),
		[]byte("<html>sorry page</html>"),
	}

	for _, body := range bodies {
		_, err := Decode(body, "US", 6, fetchedAt)
		require.ErrorIs(t, err, ErrEnvelope)
	}
}

func TestDecodeOutputNeverExceedsInput(t *testing.T) {
	entries := []any{
		[]any{"one"},
		[]any{nil},
		[]any{"two"},
	}

	res, err := Decode(envelope(t, entries), "US", 6, fetchedAt)
	require.NoError(t, err)
	require.LessOrEqual(t, len(res.Records), len(entries))
	require.Equal(t, len(entries), len(res.Records)+res.Skipped)
}
