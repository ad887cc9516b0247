package util

import "strings"

// UniqueStrings 去掉首尾空白并去重，保留首次出现的顺序，空串被丢弃
func UniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// PtrBool 用于将 bool 转换为 *bool
func PtrBool(b bool) *bool {
	return &b
}
