package record

import (
	"math"
	"reflect"
	"testing"
	"unicode"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func toAny[T any](v T) any { return v }

// scalarGen yields values in the Go types both decoders produce for a
// schemaless field. Floats are never integral, since JSON cannot tell 2.0
// from 2.
func scalarGen() gopter.Gen {
	return gen.OneGenOf(
		gen.UInt64().Map(toAny[uint64]),
		gen.Int64Range(math.MinInt64, -1).Map(toAny[int64]),
		gen.Float64Range(-1e6, 1e6).SuchThat(func(f float64) bool { return f != math.Trunc(f) }).Map(toAny[float64]),
		gen.AlphaString().Map(toAny[string]),
		gen.UnicodeString(unicode.Hiragana).Map(toAny[string]),
		gen.Bool().Map(toAny[bool]),
	)
}

// valueGen nests maps and slices up to depth levels deep.
func valueGen(depth int) gopter.Gen {
	if depth == 0 {
		return scalarGen()
	}
	inner := valueGen(depth - 1)
	return gen.OneGenOf(
		scalarGen(),
		gen.MapOf(gen.Identifier(), inner).Map(toAny[map[string]any]),
		gen.SliceOf(inner).Map(toAny[[]any]),
	)
}

func propertyParameters() *gopter.TestParameters {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.MaxSize = 8
	return parameters
}

func TestUnknown_RoundTripProperty(t *testing.T) {
	properties := gopter.NewProperties(propertyParameters())

	properties.Property("CBOR decode(encode(u)) == u", prop.ForAll(
		func(data map[string]any) bool {
			rec := &Unknown{Type: "com.example.widget", Data: data}
			raw, err := EncodeCBOR(rec)
			if err != nil {
				return false
			}
			got, err := DecodeCBOR(raw)
			return err == nil && reflect.DeepEqual(rec, got)
		},
		gen.MapOf(gen.Identifier(), valueGen(2)),
	))

	properties.Property("JSON decode(encode(u)) == u", prop.ForAll(
		func(data map[string]any) bool {
			rec := &Unknown{Type: "com.example.widget", Data: data}
			raw, err := EncodeJSON(rec)
			if err != nil {
				return false
			}
			got, err := DecodeJSON(raw)
			return err == nil && reflect.DeepEqual(rec, got)
		},
		gen.MapOf(gen.Identifier(), valueGen(2)),
	))

	properties.Property("JSON re-encoding is byte stable", prop.ForAll(
		func(data map[string]any) bool {
			first, err := EncodeJSON(&Unknown{Type: "com.example.widget", Data: data})
			if err != nil {
				return false
			}
			rec, err := DecodeJSON(first)
			if err != nil {
				return false
			}
			second, err := EncodeJSON(rec)
			return err == nil && string(first) == string(second)
		},
		gen.MapOf(gen.Identifier(), valueGen(2)),
	))

	properties.TestingRun(t)
}

// nilIfEmpty mirrors omitempty: an empty slice does not survive encoding.
func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}

var langTags = []string{"ja", "en", "ja-JP", "pt-BR"}

func roundTripsBothCodecs(rec Record) bool {
	raw, err := EncodeCBOR(rec)
	if err != nil {
		return false
	}
	got, err := DecodeCBOR(raw)
	if err != nil || !reflect.DeepEqual(rec, got) {
		return false
	}

	raw, err = EncodeJSON(rec)
	if err != nil {
		return false
	}
	got, err = DecodeJSON(raw)
	return err == nil && reflect.DeepEqual(rec, got)
}

func TestKnownRecords_RoundTripProperty(t *testing.T) {
	properties := gopter.NewProperties(propertyParameters())
	text := gen.OneGenOf(gen.AlphaString(), gen.UnicodeString(unicode.Han), gen.UnicodeString(unicode.Hiragana))

	properties.Property("posts", prop.ForAll(
		func(body, createdAt string, langs, tags []string) bool {
			return roundTripsBothCodecs(&Post{
				Text:      body,
				CreatedAt: createdAt,
				Langs:     nilIfEmpty(langs),
				Tags:      nilIfEmpty(tags),
			})
		},
		text,
		gen.AlphaString(),
		gen.SliceOf(gen.IntRange(0, len(langTags)-1).Map(func(i int) string { return langTags[i] })),
		gen.SliceOf(gen.Identifier()),
	))

	properties.Property("replies", prop.ForAll(
		func(body, uri, cid string) bool {
			ref := StrongRef{URI: uri, CID: cid}
			return roundTripsBothCodecs(&Post{Text: body, Reply: &ReplyRef{Root: ref, Parent: ref}})
		},
		text,
		gen.Identifier(),
		gen.Identifier(),
	))

	properties.Property("likes and reposts", prop.ForAll(
		func(uri, cid, createdAt string) bool {
			ref := StrongRef{URI: uri, CID: cid}
			return roundTripsBothCodecs(&Like{Subject: ref, CreatedAt: createdAt}) &&
				roundTripsBothCodecs(&Repost{Subject: ref, CreatedAt: createdAt, Via: &ref})
		},
		gen.Identifier(),
		gen.Identifier(),
		gen.AlphaString(),
	))

	properties.Property("graph records", prop.ForAll(
		func(subject, list, createdAt string) bool {
			return roundTripsBothCodecs(&Follow{Subject: subject, CreatedAt: createdAt}) &&
				roundTripsBothCodecs(&Block{Subject: subject, CreatedAt: createdAt}) &&
				roundTripsBothCodecs(&ListItem{Subject: subject, List: list, CreatedAt: createdAt}) &&
				roundTripsBothCodecs(&ListBlock{Subject: list, CreatedAt: createdAt})
		},
		gen.Identifier(),
		gen.Identifier(),
		gen.AlphaString(),
	))

	properties.Property("profiles", prop.ForAll(
		func(displayName, description string) bool {
			return roundTripsBothCodecs(&Profile{DisplayName: displayName, Description: description})
		},
		text,
		text,
	))

	properties.TestingRun(t)
}
