package shared

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"slices"
	"strings"
)

var (
	bracketedPattern  = regexp.MustCompile(`[\(\[\{]([^\)\]\}]*)[\)\]\}]`)
	dashSuffixPattern = regexp.MustCompile(`(?i)\s+-\s+((?:\d{4}\s+)?(?:remaster(?:ed)?|live|radio edit|single version|album version|mono|stereo|edit|acoustic|remix|demo|instrumental|bonus track)\b.*)$`)
	featPattern       = regexp.MustCompile(`(?i)\s+(?:feat\.?|ft\.?|featuring)\s+.*$`)
	punctPattern      = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	spacePattern      = regexp.MustCompile(`\s+`)
)

// versionKeywords mark recordings that are a different performance of the same song.
var versionKeywords = []string{"live", "acoustic", "remix", "instrumental", "demo", "karaoke", "cover"}

// SplitTitle separates a title into its core and the qualifiers stripped from it,
// e.g. "Song (Live at Wembley) - 2011 Remaster" -> "Song", ["live at wembley", "2011 remaster"].
func SplitTitle(title string) (string, []string) {
	var qualifiers []string

	core := title
	if m := dashSuffixPattern.FindStringSubmatch(core); m != nil {
		qualifiers = append(qualifiers, strings.ToLower(strings.TrimSpace(m[1])))
		core = core[:len(core)-len(m[0])]
	}

	for _, m := range bracketedPattern.FindAllStringSubmatch(core, -1) {
		if q := strings.ToLower(strings.TrimSpace(m[1])); q != "" {
			qualifiers = append(qualifiers, q)
		}
	}
	stripped := bracketedPattern.ReplaceAllString(core, " ")
	if strings.TrimSpace(punctPattern.ReplaceAllString(stripped, "")) == "" {
		stripped = core
	}

	return strings.TrimSpace(stripped), qualifiers
}

// VersionMarkers returns the version keywords present in a title's stripped qualifiers.
func VersionMarkers(title string) []string {
	_, qualifiers := SplitTitle(title)

	var markers []string
	for _, q := range qualifiers {
		for _, word := range strings.Fields(punctPattern.ReplaceAllString(q, " ")) {
			if slices.Contains(versionKeywords, word) && !slices.Contains(markers, word) {
				markers = append(markers, word)
			}
		}
	}
	slices.Sort(markers)
	return markers
}

// NormalizeText lowercases, strips punctuation and collapses whitespace.
func NormalizeText(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("'", "", "’", "", "&", " and ").Replace(s)
	s = punctPattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}

// NormalizeTitle normalizes a track title with qualifier suffixes removed.
func NormalizeTitle(title string) string {
	core, _ := SplitTitle(title)
	core = featPattern.ReplaceAllString(core, "")
	return NormalizeText(core)
}

// NormalizeArtist normalizes one artist credit, dropping featured artists.
func NormalizeArtist(artist string) string {
	return NormalizeText(featPattern.ReplaceAllString(artist, ""))
}

// NormalizeArtists normalizes, de-duplicates and sorts a list of artist credits.
func NormalizeArtists(artists []string) []string {
	out := make([]string, 0, len(artists))
	for _, a := range artists {
		if n := NormalizeArtist(a); n != "" && !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return out
}

// NormalizeTrackKey builds a comparable "title|artist" key.
func NormalizeTrackKey(title, artist string) string {
	return NormalizeTitle(title) + "|" + NormalizeArtist(artist)
}

// Fingerprint is a stable hash of a track's normalized title, version markers and artists.
func Fingerprint(title string, artists []string) string {
	key := NormalizeTitle(title) + "|" + strings.Join(VersionMarkers(title), ",") + "|" + strings.Join(NormalizeArtists(artists), ",")
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16])
}
