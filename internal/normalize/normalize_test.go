package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scotusdata/harvester/internal/harvest"
)

func rawDoc(body string) harvest.RawDocument {
	return harvest.RawDocument{Body: []byte(body), StatusCode: 200}
}

func TestDecodeShape_Variants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want ShapeKind
	}{
		{"object", `{"a":1}`, ShapeObject},
		{"empty list", `[]`, ShapeEmptyList},
		{"single list", `[{"a":1}]`, ShapeSingleList},
		{"multi list", `[{"a":1},{"b":2}]`, ShapeMultiList},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, err := DecodeShape([]byte(tt.body))
			require.NoError(t, err)
			require.Equal(t, tt.want, s.Kind)
		})
	}
}

func TestDecodeShape_RejectsGarbage(t *testing.T) {
	t.Parallel()

	for _, body := range []string{"", "  ", "42", `"str"`, "{broken"} {
		_, err := DecodeShape([]byte(body))
		var ne *harvest.NormalizationError
		require.ErrorAs(t, err, &ne, "body %q", body)
	}
}

func TestCase_SingleListUnwrapsLikeObject(t *testing.T) {
	t.Parallel()

	n := New(zap.NewNop())
	body := `{"ID":"62604","name":"303 Creative LLC v. Elenis","docket_number":"21-476","term":"2022",
		"oral_argument_audio":[{"id":25542,"href":"https://api.example.org/arg/25542"}]}`

	fromObject, err := n.Case(rawDoc(body))
	require.NoError(t, err)
	fromList, err := n.Case(rawDoc("[" + body + "]"))
	require.NoError(t, err)
	require.Equal(t, fromObject, fromList, "a single-element wrapper must normalize identically")

	require.Equal(t, "21-476", fromObject.Docket)
	require.Len(t, fromObject.Arguments, 1)
	require.Equal(t, "https://api.example.org/arg/25542", fromObject.Arguments[0].Href)
}

func TestCase_EmptyAndMultiListsFail(t *testing.T) {
	t.Parallel()

	n := New(zap.NewNop())

	_, err := n.Case(rawDoc(`[]`))
	var ne *harvest.NormalizationError
	require.ErrorAs(t, err, &ne)
	require.Equal(t, "body", ne.Field)

	_, err = n.Case(rawDoc(`[{"docket_number":"1"},{"docket_number":"2"}]`))
	require.ErrorAs(t, err, &ne)
}

func TestCase_ArguedDateFromTimeline(t *testing.T) {
	t.Parallel()

	n := New(zap.NewNop())
	c, err := n.Case(rawDoc(`{"docket_number":"21-476","term":"2022",
		"timeline":[{"event":"Granted","dates":[1645400000]},{"event":"Argued","dates":[1670198400]}]}`))
	require.NoError(t, err)
	require.Equal(t, time.Unix(1670198400, 0).UTC(), c.ArgueDate)
}

func TestArgument_ResolvesAudioFromMediaList(t *testing.T) {
	t.Parallel()

	n := New(zap.NewNop())
	arg, rejected, err := n.Argument("2022/21-476", rawDoc(`{
		"title":"Oral Argument - December 05, 2022",
		"media_file":[
			{"mime":"video/mp4","href":"x.mp4"},
			{"mime":"audio/mpeg","href":"y.mp3","size":"742.5"}
		]}`))
	require.NoError(t, err)
	require.Zero(t, rejected)
	require.Equal(t, "y.mp3", arg.Audio.URL)
	require.Equal(t, 742.5, arg.Audio.Duration)
	require.False(t, arg.Audio.DurationUnknown)
	require.Equal(t, time.Date(2022, 12, 5, 0, 0, 0, 0, time.UTC), arg.Date)
}

func TestArgument_AudioByExtensionWithoutMime(t *testing.T) {
	t.Parallel()

	n := New(zap.NewNop())
	arg, _, err := n.Argument("c", rawDoc(`{"media_file":[{"href":"https://m.example.org/a.mp3"}],"duration":100}`))
	require.NoError(t, err)
	require.Equal(t, "https://m.example.org/a.mp3", arg.Audio.URL)
	require.Equal(t, 100.0, arg.Audio.Duration)
}

func TestArgument_NoAudioCandidateFails(t *testing.T) {
	t.Parallel()

	n := New(zap.NewNop())
	_, _, err := n.Argument("c", rawDoc(`{"media_file":[{"mime":"video/mp4","href":"x.mp4"}]}`))
	var ne *harvest.NormalizationError
	require.ErrorAs(t, err, &ne)
	require.Equal(t, "media_file", ne.Field)
}

func TestArgument_UnknownDurationIsFlaggedNotZero(t *testing.T) {
	t.Parallel()

	n := New(zap.NewNop())
	arg, _, err := n.Argument("c", rawDoc(`{"media_file":[{"mime":"audio/mpeg","href":"y.mp3"}]}`))
	require.NoError(t, err)
	require.True(t, arg.Audio.DurationUnknown)
	require.Zero(t, arg.Audio.Duration)
}

func TestArgument_DurationFallsBackToUtterances(t *testing.T) {
	t.Parallel()

	n := New(zap.NewNop())
	arg, _, err := n.Argument("c", rawDoc(`{
		"media_file":[{"mime":"audio/mpeg","href":"y.mp3"}],
		"sections":[{"name":"Main","turns":[
			{"speaker":{"identifier":"j_roberts","name":"John G. Roberts, Jr."},
			 "text_blocks":[{"start":0,"stop":321.5,"text":"We will hear argument"}]}
		]}]}`))
	require.NoError(t, err)
	require.False(t, arg.Audio.DurationUnknown)
	require.Equal(t, 321.5, arg.Audio.Duration)
}

func TestArgument_MergesSpeakersAcrossSectionTrees(t *testing.T) {
	t.Parallel()

	n := New(zap.NewNop())
	arg, _, err := n.Argument("c", rawDoc(`{
		"media_file":[{"mime":"audio/mpeg","href":"y.mp3","duration":10}],
		"sections":[{"name":"Main","turns":[
			{"speaker":{"identifier":"j_roberts","name":"John G. Roberts, Jr.","roles":[{"role_title":"Chief Justice"}]},
			 "text_blocks":[{"start":0,"stop":5,"text":"Good morning."}]}
		]}],
		"transcript":{"sections":[{"title":"Rebuttal","turns":[
			{"speaker":{"identifier":"j_roberts","name":"Duplicate Name"},
			 "start":6,"stop":9,"text":"Thank you, counsel."},
			{"speaker":{"identifier":"k_waggoner","name":"Kristen K. Waggoner"},
			 "start":5,"stop":6,"text":"Thank you."}
		]}]}}`))
	require.NoError(t, err)

	require.Len(t, arg.Speakers, 2, "duplicate identifiers collapse to one speaker")
	chief, ok := arg.SpeakerByID("j_roberts")
	require.True(t, ok)
	require.Equal(t, "Chief Justice", chief.Role, "first occurrence wins")
	require.Equal(t, "John G. Roberts, Jr.", chief.Name)

	counsel, ok := arg.SpeakerByID("k_waggoner")
	require.True(t, ok)
	require.Equal(t, "Unknown", counsel.Role, "missing roles resolve to Unknown")

	// Sorted by start time across both trees.
	require.Len(t, arg.Utterances, 3)
	require.Equal(t, []float64{0, 5, 6}, []float64{arg.Utterances[0].Start, arg.Utterances[1].Start, arg.Utterances[2].Start})
	require.Equal(t, "Rebuttal", arg.Utterances[2].Section)
	require.Equal(t, 2, arg.Utterances[2].Turn, "turn counts accumulate per speaker across trees")
}

func TestArgument_RejectsInvalidSpansIndividually(t *testing.T) {
	t.Parallel()

	n := New(zap.NewNop())
	arg, rejected, err := n.Argument("c", rawDoc(`{
		"media_file":[{"mime":"audio/mpeg","href":"y.mp3","duration":10}],
		"sections":[{"name":"Main","turns":[
			{"speaker":{"identifier":"s1","name":"A"},
			 "text_blocks":[
				{"start":5,"stop":3,"text":"inverted"},
				{"start":1,"stop":1,"text":"zero width"},
				{"start":1,"stop":2,"text":"valid"}
			]}
		]}]}`))
	require.NoError(t, err, "invalid spans are never fatal to the document")
	require.Equal(t, 2, rejected)
	require.Len(t, arg.Utterances, 1)
	require.Equal(t, "valid", arg.Utterances[0].Text)
	require.Greater(t, arg.Utterances[0].End, arg.Utterances[0].Start)
}

func TestSummaries_ParsesListingPage(t *testing.T) {
	t.Parallel()

	n := New(zap.NewNop())
	sums, err := n.Summaries(rawDoc(`[
		{"term":"2022","docket_number":"21-476","name":"303 Creative LLC v. Elenis"},
		{"term":"2022","name":"missing docket, skipped"},
		{"term":"2022","docket_number":"21-1333","name":"Gonzalez v. Google LLC"}
	]`))
	require.NoError(t, err)
	require.Len(t, sums, 2)
	require.Equal(t, "21-476", sums[0].Docket)
	require.Equal(t, "21-1333", sums[1].Docket)
}

func TestSummaries_EmptyPageIsValid(t *testing.T) {
	t.Parallel()

	n := New(zap.NewNop())
	sums, err := n.Summaries(rawDoc(`[]`))
	require.NoError(t, err)
	require.Empty(t, sums)
}

func TestSummaries_ObjectIsAnError(t *testing.T) {
	t.Parallel()

	n := New(zap.NewNop())
	_, err := n.Summaries(rawDoc(`{"term":"2022"}`))
	var ne *harvest.NormalizationError
	require.ErrorAs(t, err, &ne)
}

func TestParseDateString(t *testing.T) {
	t.Parallel()

	require.Equal(t, time.Date(2022, 12, 5, 0, 0, 0, 0, time.UTC), parseDateString("Oral Argument - December 05, 2022"))
	require.Equal(t, time.Date(2023, 1, 9, 0, 0, 0, 0, time.UTC), parseDateString("2023-01-09"))
	require.True(t, parseDateString("no date here").IsZero())
}
