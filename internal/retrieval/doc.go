// Package retrieval ranks stored patterns against a free-text query.
//
// A Matcher decides which candidates are relevant and scores them; the
// Engine fetches candidates from the store, matches them and orders the
// survivors by score, then confidence, occurrence count and recency.
package retrieval
