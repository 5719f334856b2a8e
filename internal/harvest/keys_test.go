package harvest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWorkKey_StringIsStable(t *testing.T) {
	t.Parallel()

	require.Equal(t, "case_list/2022/page/0", CaseListKey("2022", 0).String())
	require.Equal(t, "case/2022/21-476", CaseKey("2022", "21-476").String())
	require.Equal(t,
		"argument/https://api.example.org/case_media/oral_argument_audio/25000",
		ArgumentKey("https://api.example.org/case_media/oral_argument_audio/25000").String(),
	)

	// Same logical resource, same key.
	require.Equal(t, CaseKey("2022", "21-476"), CaseKey("2022", "21-476"))
}

func TestWorkKey_SlugIsPathSafe(t *testing.T) {
	t.Parallel()

	slug := AudioKey("https://media.example.org/audio/2022/21-476.mp3?dl=1").Slug()
	require.NotContains(t, slug, "/")
	require.NotContains(t, slug, ":")
	require.NotContains(t, slug, "?")
	require.NotContains(t, slug, "--")

	// Distinct keys must not collapse to the same slug.
	require.NotEqual(t, CaseKey("2022", "21-476").Slug(), CaseKey("2022", "21-477").Slug())

	// Keys that differ only in collapsed separators keep distinct slugs.
	require.NotEqual(t,
		ArgumentKey("https://api.example.org/a/b").Slug(),
		ArgumentKey("https://api.example.org/a?b").Slug(),
	)
	require.Equal(t,
		ArgumentKey("https://api.example.org/a/b").Slug(),
		ArgumentKey("https://api.example.org/a/b").Slug(),
	)
}

func TestFetchError_Classification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		err         FetchError
		retryable   bool
		rateLimited bool
	}{
		{"network", FetchError{Kind: FetchNetwork}, true, false},
		{"timeout", FetchError{Kind: FetchTimeout}, true, false},
		{"throttled", FetchError{Kind: FetchHTTP, Status: 429}, true, true},
		{"server error", FetchError{Kind: FetchHTTP, Status: 503}, true, false},
		{"not found", FetchError{Kind: FetchHTTP, Status: 404}, false, false},
		{"malformed", FetchError{Kind: FetchMalformed}, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.retryable, tc.err.Retryable())
			require.Equal(t, tc.rateLimited, tc.err.RateLimited())
		})
	}
}

func TestOralArgument_SpeakerByID(t *testing.T) {
	t.Parallel()

	arg := &OralArgument{Speakers: []Speaker{
		{Identifier: "j_roberts", Name: "John G. Roberts, Jr.", Role: "Chief Justice"},
	}}

	spk, ok := arg.SpeakerByID("j_roberts")
	require.True(t, ok)
	require.Equal(t, "Chief Justice", spk.Role)

	_, ok = arg.SpeakerByID("missing")
	require.False(t, ok)
}
