// Package llm contains the provider abstraction for invoking large language
// models. It defines a normalized request/response contract and leaves the
// provider-specific wire formats to adapter sub-packages.
package llm
