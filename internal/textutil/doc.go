// Package textutil provides string comparison primitives used by duplicate
// detection: ISBN normalization and token-vector text similarity.
package textutil
