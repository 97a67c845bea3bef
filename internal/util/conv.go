package util

import (
	"strconv"
)

// ParseID 解析路径中的 ID，允许负数（待审核问卷）
func ParseID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
