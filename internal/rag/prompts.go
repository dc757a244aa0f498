package rag

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// CoachSystemPrompt is the instruction every provider sends unless the
// caller supplies its own.
const CoachSystemPrompt = `You are the FOIA Coach, an assistant that helps people understand and use
state public records laws and the federal Freedom of Information Act.

Answer only from the jurisdiction documents available to you through file search.
Cite the documents you rely on. When the documents do not cover the question,
say so plainly instead of guessing, and suggest what the person could ask the
agency or a records officer.

Explain deadlines, fees, exemptions and appeal rights in plain language. You give
guidance about the law and the request process; you do not write or file requests
on anyone's behalf and you do not give legal advice.`

func systemPrompt(req QueryRequest) string {
	if strings.TrimSpace(req.SystemPrompt) != "" {
		return req.SystemPrompt
	}
	return CoachSystemPrompt
}

// buildUserPrompt scopes the question to a jurisdiction and appends caller context
func buildUserPrompt(req QueryRequest) string {
	var sb strings.Builder
	if req.State != "" {
		fmt.Fprintf(&sb, "Jurisdiction: %s\n\n", req.State)
	}
	if len(req.Context) > 0 {
		sb.WriteString("Context:\n")
		keys := make([]string, 0, len(req.Context))
		for k := range req.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v, err := json.Marshal(req.Context[k])
			if err != nil {
				v = []byte(fmt.Sprintf("%q", fmt.Sprint(req.Context[k])))
			}
			fmt.Fprintf(&sb, "- %s: %s\n", k, v)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Question: ")
	sb.WriteString(req.Question)
	return sb.String()
}

func modelFor(req QueryRequest, fallback string) string {
	if req.Model != "" {
		return req.Model
	}
	return fallback
}
