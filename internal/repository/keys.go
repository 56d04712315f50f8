// Package repository implements the codebase and session repositories on top
// of a kvstore.Store.
package repository

const allCodebasesKey = "codebases:all"

func codebaseKey(id string) string {
	return "codebase:" + id
}

func codebaseByURLKey(cloneURL string) string {
	return "codebase:url:" + cloneURL
}

func sessionKey(id string) string {
	return "session:" + id
}

func codebaseSessionsKey(codebaseID string) string {
	return "codebase:" + codebaseID + ":sessions"
}
