package rag

import (
	"strings"

	"github.com/openai/openai-go/responses"
	"google.golang.org/genai"
)

func intPtr(v int) *int { return &v }

// openAICitations turns file_citation annotations into citations, one per file
// in first-seen order. displayNames maps file ids to resource display names.
func openAICitations(resp *responses.Response, displayNames map[string]string) []Citation {
	citations := make([]Citation, 0)
	seen := make(map[string]bool)
	for _, item := range resp.Output {
		if item.Type != "message" {
			continue
		}
		for _, content := range item.Content {
			for _, ann := range content.Annotations {
				if ann.Type != "file_citation" || ann.FileID == "" || seen[ann.FileID] {
					continue
				}
				seen[ann.FileID] = true
				c := Citation{
					Source:      ann.Filename,
					FileID:      ann.FileID,
					DisplayName: displayNames[ann.FileID],
					StartIndex:  intPtr(int(ann.Index)),
				}
				if c.Source == "" {
					c.Source = ann.FileID
				}
				if c.DisplayName == "" {
					c.DisplayName = strings.TrimSuffix(ann.Filename, ".pdf")
				}
				citations = append(citations, c)
			}
		}
	}
	return citations
}

// geminiCitations converts grounding metadata into citations. Supports carry
// the answer span each chunk backs; chunks without a support still count.
func geminiCitations(meta *genai.GroundingMetadata) []Citation {
	if meta == nil {
		return []Citation{}
	}
	spans := make(map[int]*genai.Segment)
	for _, support := range meta.GroundingSupports {
		if support == nil || support.Segment == nil {
			continue
		}
		for _, idx := range support.GroundingChunkIndices {
			if _, ok := spans[int(idx)]; !ok {
				spans[int(idx)] = support.Segment
			}
		}
	}

	citations := make([]Citation, 0, len(meta.GroundingChunks))
	seen := make(map[string]bool)
	for i, chunk := range meta.GroundingChunks {
		if chunk == nil || chunk.RetrievedContext == nil {
			continue
		}
		rc := chunk.RetrievedContext
		key := rc.Title + "\x00" + rc.Text
		if seen[key] {
			continue
		}
		seen[key] = true

		c := Citation{
			Source:      firstNonEmpty(rc.Title, rc.URI, "File Search"),
			FileID:      firstNonEmpty(rc.DocumentName, rc.URI),
			DisplayName: strings.TrimSuffix(rc.Title, ".pdf"),
			Quote:       truncate(rc.Text, 500),
		}
		if seg, ok := spans[i]; ok {
			c.Text = seg.Text
			c.StartIndex = intPtr(int(seg.StartIndex))
			c.EndIndex = intPtr(int(seg.EndIndex))
		}
		citations = append(citations, c)
	}
	return citations
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
