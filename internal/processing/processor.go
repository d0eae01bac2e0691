package processing

import (
	"crypto/sha1"
	"encoding/hex"
	"html"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"
)

var (
	tagRegex = regexp.MustCompile(`<[^>]+>`)
	urlRegex = regexp.MustCompile(`https?://[^\s]+`)
)

var (
	whitespace  = regexp.MustCompile(`\s+`)
	punctuation = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
)

var stopwords = map[string]struct{}{
	"및": {}, "등": {}, "이": {}, "그": {}, "저": {}, "것": {}, "수": {},
	"위해": {}, "대한": {}, "통해": {}, "관련": {}, "있는": {}, "있다": {},
	"한다": {}, "했다": {}, "밝혔다": {}, "기자": {}, "뉴스": {},
	"a": {}, "an": {}, "the": {}, "to": {}, "in": {}, "for": {}, "of": {}, "and": {},
}

// StripTags removes anything that looks like a markup tag and trims the result.
// Entities such as &amp; are left as they are.
func StripTags(input string) string {
	if input == "" {
		return ""
	}
	return strings.TrimSpace(tagRegex.ReplaceAllString(input, ""))
}

// RemoveURLs removes all URLs from the input text.
func RemoveURLs(input string) string {
	return urlRegex.ReplaceAllString(input, " ")
}

// CleanText strips tags, decodes entities, removes URLs and punctuation, and squeezes whitespace.
func CleanText(input string) string {
	if input == "" {
		return ""
	}
	decoded := html.UnescapeString(StripTags(input))
	decoded = RemoveURLs(decoded)
	decoded = punctuation.ReplaceAllString(decoded, " ")
	decoded = whitespace.ReplaceAllString(decoded, " ")
	return strings.TrimSpace(decoded)
}

// ExtractKeywords returns the most frequent words that are not stop-words.
func ExtractKeywords(text string, limit, minLen int) []string {
	clean := strings.ToLower(CleanText(text))
	if clean == "" {
		return nil
	}

	freq := make(map[string]int)
	for _, token := range strings.Fields(clean) {
		token = strings.TrimFunc(token, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if len([]rune(token)) < minLen {
			continue
		}
		if _, skip := stopwords[token]; skip {
			continue
		}
		freq[token]++
	}

	if len(freq) == 0 {
		return nil
	}

	type kv struct {
		word  string
		count int
	}

	pairs := make([]kv, 0, len(freq))
	for word, count := range freq {
		pairs = append(pairs, kv{word: word, count: count})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count == pairs[j].count {
			return pairs[i].word < pairs[j].word
		}
		return pairs[i].count > pairs[j].count
	})

	max := limit
	if max <= 0 || max > len(pairs) {
		max = len(pairs)
	}

	keywords := make([]string, 0, max)
	for i := 0; i < max; i++ {
		keywords = append(keywords, pairs[i].word)
	}

	return keywords
}

// BuildDigestID hashes the keyword, the article links and the hour bucket into a stable id,
// so repeated requests for the same news within an hour map to one archive document.
func BuildDigestID(keyword string, links []string, ts time.Time) string {
	h := sha1.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(keyword))))
	for _, link := range links {
		h.Write([]byte{'|'})
		h.Write([]byte(link))
	}
	h.Write([]byte{'|'})
	h.Write([]byte(ts.UTC().Truncate(time.Hour).Format(time.RFC3339)))
	return hex.EncodeToString(h.Sum(nil))
}
