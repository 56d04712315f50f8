package rag

import "strings"

const systemPrompt = `You are a helpful code assistant that answers questions about a specific codebase.

You have access to the following retrieved code context:

{context}

Instructions:
- Answer the user's question based on the provided code context
- Be specific and reference actual code when relevant
- If the context doesn't contain enough information, say so
- Format code snippets using markdown code blocks
- Keep responses concise but complete
`

const agentSystemPrompt = `You are a helpful code assistant that can search and analyze codebases.

You have access to tools for:
- Searching code
- Reading files
- Listing repository structure

When answering questions:
1. First search for relevant code if needed
2. Read specific files for more context
3. Provide clear, concise answers with code references
4. Use markdown formatting for code snippets

Code retrieved for the current question:

{context}
`

func renderPrompt(tmpl, context string) string {
	return strings.Replace(tmpl, "{context}", context, 1)
}
