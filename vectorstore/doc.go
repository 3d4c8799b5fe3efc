// Package vectorstore partitions vector records into one collection per user.
//
// Every Manager operation takes the caller's user ID and resolves it to that
// user's collection; there is no operation that spans collections and no
// default collection to fall back to.
package vectorstore
