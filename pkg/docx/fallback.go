package docx

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/nguyenthenguyen/docx"
)

// verifyReadable 用独立的docx读取器重新打开回退输出，主文档必须可读且非空
func verifyReadable(buf []byte) error {
	reader, err := docx.ReadDocxFromMemory(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return fmt.Errorf("回退输出无法重新打开: %w", err)
	}
	defer reader.Close()

	if strings.TrimSpace(reader.Editable().GetContent()) == "" {
		return fmt.Errorf("回退输出的主文档为空")
	}
	return nil
}
