package utils

import (
	"fmt"
	"strconv"
)

// ParseID 解析路径中的工作区ID或产物序号，只接受非负整数
func ParseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}
