package telegram

import (
	"sort"
	"strings"

	tele "gopkg.in/telebot.v4"
)

const textLimit = 4000

// chunk is one message-sized piece of a text. rest is the byte offset in the
// original text where the remainder after this chunk starts.
type chunk struct {
	text string
	rest int
}

// splitText splits long messages into chunks Telegram will accept,
// preferring newline boundaries.
func splitText(s string, limit int) []string {
	cs := splitChunks(s, limit)
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.text
	}
	return out
}

func splitChunks(s string, limit int) []chunk {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []chunk{{text: s, rest: len(s)}}
	}

	out := make([]chunk, 0, (len(rs)+limit-1)/limit)
	start, off := 0, 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			// Avoid extremely small chunks.
			for i := end - 1; i-start >= limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}

		piece := string(rs[start:end])
		off += len(piece)
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
			off++
		}
		out = append(out, chunk{text: strings.TrimRight(piece, "\n"), rest: off})
	}
	return out
}

func sortCommands(list []tele.Command) {
	sort.Slice(list, func(i, j int) bool { return list[i].Text < list[j].Text })
}
