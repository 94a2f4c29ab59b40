// Package types defines the DocumentStore and Tx interfaces, the progression,
// reward and lobby entities, engine configuration, and the error taxonomy
// shared by every questbook component.
package types
