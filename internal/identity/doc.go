// Package identity maps raw upstream identifiers to canonical entity ids of
// the form "<source>-<kind>--<cleaned-id>".
//
//	n := identity.New()
//	id, err := n.Normalize("meta-llama/Llama-2-7b", "huggingface", "")
//	// id == "hf-model--meta-llama--llama-2-7b"
//
// Normalization is idempotent: a canonical id normalizes to itself. Known
// prefixes are only ever stripped from the front of the string, so author or
// name segments that happen to be reserved words ("model", "paper") are kept
// as data.
package identity
