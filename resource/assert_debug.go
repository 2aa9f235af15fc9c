//go:build ossimdebug

package resource

const assertionsEnabled = true
