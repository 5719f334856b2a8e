// Package normalize reduces the remote API's inconsistently shaped documents
// to the canonical domain model. Every structural variant is decoded into a
// tagged shape first; field-level inconsistencies (audio location, duration
// mislabeled as size, speakers split across two section trees) are resolved
// with fixed, deterministic rules so the same payload always yields the same
// entities.
package normalize

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scotusdata/harvester/internal/harvest"
)

// audioFields is the resolution order for the media list; first field that
// yields an acceptable candidate wins.
var audioFields = []string{"media_file", "audio", "recordings"}

// Normalizer converts raw documents into domain entities. Stateless; safe for
// concurrent use.
type Normalizer struct {
	logger *zap.Logger
}

// New constructs a Normalizer.
func New(logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{logger: logger}
}

// Summaries parses one page of the listing endpoint into case summaries.
// Listing payloads are always lists; any length is valid, including empty.
func (n *Normalizer) Summaries(doc harvest.RawDocument) ([]harvest.CaseSummary, error) {
	shape, err := DecodeShape(doc.Body)
	if err != nil {
		return nil, err
	}
	if shape.Kind == ShapeObject {
		return nil, &harvest.NormalizationError{Field: "body", Reason: "expected a listing, got a single object"}
	}

	summaries := make([]harvest.CaseSummary, 0, len(shape.Elements))
	for _, el := range shape.Elements {
		docket := getString(el, "docket_number")
		if docket == "" {
			n.logger.Debug("skipping listing entry without docket", zap.String("name", getString(el, "name")))
			continue
		}
		summaries = append(summaries, harvest.CaseSummary{
			Term:   getString(el, "term"),
			Docket: docket,
			Name:   getString(el, "name"),
		})
	}
	return summaries, nil
}

// Case parses a case detail document. A single-element list wrapper unwraps
// to the equivalent object; empty and multi-element lists fail.
func (n *Normalizer) Case(doc harvest.RawDocument) (*harvest.Case, error) {
	shape, err := DecodeShape(doc.Body)
	if err != nil {
		return nil, err
	}
	obj, err := UnwrapObject(shape)
	if err != nil {
		return nil, err
	}

	docket := getString(obj, "docket_number")
	if docket == "" {
		return nil, &harvest.NormalizationError{Field: "docket_number", Reason: "missing"}
	}

	c := &harvest.Case{
		ID:          getString(obj, "ID"),
		Name:        getString(obj, "name"),
		Docket:      docket,
		Term:        getString(obj, "term"),
		Description: getString(obj, "description"),
		ArgueDate:   arguedDate(obj),
	}
	if c.ID == "" {
		c.ID = c.Term + "/" + c.Docket
	}

	for _, el := range getList(obj, "oral_argument_audio") {
		href := getString(el, "href")
		if href == "" {
			continue
		}
		ref := harvest.ArgumentRef{Href: href}
		if id, ok := el["id"]; ok {
			ref.ID = fmt.Sprint(id)
		}
		c.Arguments = append(c.Arguments, ref)
	}
	return c, nil
}

// Argument parses an oral argument document into the canonical entity plus
// the count of utterances rejected for violating end > start.
func (n *Normalizer) Argument(caseID string, doc harvest.RawDocument) (*harvest.OralArgument, int, error) {
	shape, err := DecodeShape(doc.Body)
	if err != nil {
		return nil, 0, err
	}
	obj, err := UnwrapObject(shape)
	if err != nil {
		return nil, 0, err
	}

	speakers := extractSpeakers(obj)
	utterances, rejected := extractUtterances(obj, speakers)

	audio, err := resolveAudio(obj, utterances)
	if err != nil {
		return nil, rejected, err
	}

	arg := &harvest.OralArgument{
		CaseID:     caseID,
		Title:      getString(obj, "title"),
		Date:       argumentDate(obj),
		Audio:      audio,
		Speakers:   speakers,
		Utterances: utterances,
	}
	if rejected > 0 {
		n.logger.Debug("rejected utterances with invalid spans",
			zap.String("case_id", caseID),
			zap.Int("rejected", rejected),
		)
	}
	return arg, rejected, nil
}

// resolveAudio walks the fixed field order and accepts the first candidate
// whose MIME type or extension indicates audio. Duration prefers the
// candidate's size field (mislabeled duration), then its duration field, then
// the document-level duration, then the last utterance end; if none is a
// non-negative number the duration is flagged unknown rather than zeroed.
func resolveAudio(obj map[string]any, utterances []harvest.Utterance) (harvest.AudioRef, error) {
	for _, field := range audioFields {
		for _, media := range mediaCandidates(obj[field]) {
			mime := getString(media, "mime")
			href := getString(media, "href")
			if href == "" || !isAudio(mime, href) {
				continue
			}
			ref := harvest.AudioRef{URL: href, MIME: mime}
			dur, ok := mediaDuration(media)
			if !ok {
				dur, ok = docDuration(obj, utterances)
			}
			ref.Duration = dur
			ref.DurationUnknown = !ok
			return ref, nil
		}
	}
	return harvest.AudioRef{}, &harvest.NormalizationError{Field: "media_file", Reason: "no audio candidate found"}
}

// mediaCandidates tolerates a media field holding a list, a bare object, or
// nothing.
func mediaCandidates(v any) []map[string]any {
	switch m := v.(type) {
	case []any:
		out := make([]map[string]any, 0, len(m))
		for _, el := range m {
			if obj, ok := el.(map[string]any); ok {
				out = append(out, obj)
			}
		}
		return out
	case map[string]any:
		return []map[string]any{m}
	default:
		return nil
	}
}

func isAudio(mime, href string) bool {
	if strings.HasPrefix(mime, "audio/") {
		return true
	}
	lower := strings.ToLower(strings.SplitN(href, "?", 2)[0])
	for _, ext := range []string{".mp3", ".flac", ".wav", ".ogg", ".m4a"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func mediaDuration(media map[string]any) (float64, bool) {
	// Some payloads label the duration "size".
	if v, ok := asFloat(media["size"]); ok && v >= 0 {
		return v, true
	}
	if v, ok := asFloat(media["duration"]); ok && v >= 0 {
		return v, true
	}
	return 0, false
}

func docDuration(obj map[string]any, utterances []harvest.Utterance) (float64, bool) {
	if v, ok := asFloat(obj["duration"]); ok && v >= 0 {
		return v, true
	}
	if len(utterances) > 0 {
		maxEnd := 0.0
		for _, u := range utterances {
			if u.End > maxEnd {
				maxEnd = u.End
			}
		}
		if maxEnd > 0 {
			return maxEnd, true
		}
	}
	return 0, false
}

// extractSpeakers merges speakers from the top-level sections tree and
// transcript.sections, deduplicating by identifier. First occurrence wins for
// display fields.
func extractSpeakers(obj map[string]any) []harvest.Speaker {
	var speakers []harvest.Speaker
	seen := make(map[string]bool)

	collect := func(sections []map[string]any) {
		for _, section := range sections {
			for _, turn := range getList(section, "turns") {
				spk, ok := turn["speaker"].(map[string]any)
				if !ok {
					continue
				}
				id := getString(spk, "identifier")
				if id == "" || seen[id] {
					continue
				}
				seen[id] = true
				speakers = append(speakers, harvest.Speaker{
					Identifier: id,
					Name:       stringOr(spk, "name", "Unknown"),
					Role:       speakerRole(spk),
				})
			}
		}
	}

	collect(getList(obj, "sections"))
	collect(transcriptSections(obj))
	return speakers
}

func speakerRole(spk map[string]any) string {
	roles := getList(spk, "roles")
	if len(roles) > 0 {
		if title := getString(roles[0], "role_title"); title != "" {
			return title
		}
	}
	return "Unknown"
}

// extractUtterances walks both section trees in order, counting turns per
// speaker and dropping spans that violate end > start. The result is sorted
// by start time; the second return is the rejection tally.
func extractUtterances(obj map[string]any, speakers []harvest.Speaker) ([]harvest.Utterance, int) {
	known := make(map[string]bool, len(speakers))
	for _, s := range speakers {
		known[s.Identifier] = true
	}

	var utterances []harvest.Utterance
	rejected := 0
	turnCounts := make(map[string]int)

	// Top-level sections carry timing per text block.
	for _, section := range getList(obj, "sections") {
		sectionName := getString(section, "name")
		for _, turn := range getList(section, "turns") {
			id := turnSpeakerID(turn)
			if id == "" || !known[id] {
				continue
			}
			turnCounts[id]++
			for _, block := range getList(turn, "text_blocks") {
				text := getString(block, "text")
				if text == "" {
					continue
				}
				start, _ := asFloat(block["start"])
				end, _ := asFloat(block["stop"])
				if end <= start {
					rejected++
					continue
				}
				utterances = append(utterances, harvest.Utterance{
					Start:     start,
					End:       end,
					SpeakerID: id,
					Text:      text,
					Section:   sectionName,
					Turn:      turnCounts[id],
				})
			}
		}
	}

	// Transcript sections carry timing per turn.
	for _, section := range transcriptSections(obj) {
		sectionName := stringOr(section, "title", "Unknown Section")
		for _, turn := range getList(section, "turns") {
			id := turnSpeakerID(turn)
			if id == "" || !known[id] {
				continue
			}
			turnCounts[id]++
			text := turnText(turn)
			if text == "" {
				continue
			}
			start, _ := asFloat(turn["start"])
			end, _ := asFloat(turn["stop"])
			if end <= start {
				rejected++
				continue
			}
			utterances = append(utterances, harvest.Utterance{
				Start:     start,
				End:       end,
				SpeakerID: id,
				Text:      text,
				Section:   sectionName,
				Turn:      turnCounts[id],
			})
		}
	}

	sort.SliceStable(utterances, func(i, j int) bool {
		return utterances[i].Start < utterances[j].Start
	})
	return utterances, rejected
}

func turnSpeakerID(turn map[string]any) string {
	spk, ok := turn["speaker"].(map[string]any)
	if !ok {
		return ""
	}
	return getString(spk, "identifier")
}

// turnText joins text_blocks, falling back to a bare text field.
func turnText(turn map[string]any) string {
	blocks := getList(turn, "text_blocks")
	if len(blocks) > 0 {
		parts := make([]string, 0, len(blocks))
		for _, b := range blocks {
			if t := getString(b, "text"); t != "" {
				parts = append(parts, t)
			}
		}
		return strings.Join(parts, " ")
	}
	return getString(turn, "text")
}

func transcriptSections(obj map[string]any) []map[string]any {
	transcript, ok := obj["transcript"].(map[string]any)
	if !ok {
		return nil
	}
	return getList(transcript, "sections")
}

// argumentDate resolves the session date from the date field, falling back
// to a date embedded in the title; unresolvable dates stay zero.
func argumentDate(obj map[string]any) time.Time {
	if ts, ok := asFloat(obj["date"]); ok && ts > 0 {
		return time.Unix(int64(ts), 0).UTC()
	}
	if d := parseDateString(getString(obj, "date")); !d.IsZero() {
		return d
	}
	return parseDateString(getString(obj, "title"))
}

// arguedDate finds the "Argued" event in a case's timeline.
func arguedDate(obj map[string]any) time.Time {
	for _, event := range getList(obj, "timeline") {
		if getString(event, "event") != "Argued" {
			continue
		}
		if dates, ok := event["dates"].([]any); ok && len(dates) > 0 {
			if ts, ok := asFloat(dates[0]); ok && ts > 0 {
				return time.Unix(int64(ts), 0).UTC()
			}
		}
	}
	return time.Time{}
}

var dateLayouts = []string{
	"2006-01-02",
	"January 2, 2006",
	"January 02, 2006",
	"Jan 2, 2006",
}

// parseDateString extracts a date from a free-form string such as
// "Oral Argument - December 05, 2022"; unparseable input yields zero.
func parseDateString(s string) time.Time {
	for _, candidate := range strings.Split(s, " - ") {
		candidate = strings.TrimSpace(candidate)
		for _, layout := range dateLayouts {
			if d, err := time.Parse(layout, candidate); err == nil {
				return d.UTC()
			}
		}
	}
	return time.Time{}
}

func getString(obj map[string]any, field string) string {
	if s, ok := obj[field].(string); ok {
		return s
	}
	return ""
}

func stringOr(obj map[string]any, field, fallback string) string {
	if s := getString(obj, field); s != "" {
		return s
	}
	return fallback
}

func getList(obj map[string]any, field string) []map[string]any {
	raw, ok := obj[field].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, el := range raw {
		if m, ok := el.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// asFloat accepts JSON numbers and numeric strings; anything else is not a
// number.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
