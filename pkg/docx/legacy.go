package docx

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/richardlehane/mscfb"
	"github.com/richardlehane/msoleps"
)

// OLE 复合文档签名
var oleSignature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// 旧版文档中保存属性集的流
var legacyPropertyStreams = map[string]bool{
	"\x05SummaryInformation":         true,
	"\x05DocumentSummaryInformation": true,
}

// ErrNotLegacyDocument 输入不是OLE复合文档
var ErrNotLegacyDocument = errors.New("不是旧版二进制Word文档")

// IsLegacyDocument 判断缓冲区是否为旧版 .doc（OLE复合文档）
func IsLegacyDocument(buf []byte) bool {
	return bytes.HasPrefix(buf, oleSignature)
}

// ReadLegacyProperties 读取旧版文档的属性集，只用于提示用户，不参与合并
func ReadLegacyProperties(buf []byte) (PropertyList, error) {
	if !IsLegacyDocument(buf) {
		return nil, ErrNotLegacyDocument
	}

	doc, err := mscfb.New(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("解析OLE复合文档失败: %w", err)
	}

	var props PropertyList
	reader := msoleps.New()
	for entry, err := doc.Next(); err == nil; entry, err = doc.Next() {
		if !legacyPropertyStreams[entry.Name] {
			continue
		}
		if err := reader.Reset(doc); err != nil {
			if errors.Is(err, io.EOF) {
				continue
			}
			return nil, fmt.Errorf("解析属性集 %q 失败: %w", strings.TrimPrefix(entry.Name, "\x05"), err)
		}
		for _, prop := range reader.Property {
			if prop == nil || prop.Name == "" {
				continue
			}
			props = props.Set(prop.Name, prop.String())
		}
	}

	return props, nil
}
