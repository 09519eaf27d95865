package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// RAG 服务代码: 20 (业务服务范围 20-79)
// 错误码格式: AABBCCC
// - AA: 20 (RAG 服务)
// - BB: 类别代码
// - CCC: 序号

const (
	// ServiceRAG is for RAG service.
	ServiceRAG = 20
)

func init() {
	RegisterService(ServiceRAG, "sentinel-rag")
}

var (
	// 请求参数错误 (类别 01)
	ErrRAGInvalidRequest  = NewRequestErr(ServiceRAG, 1, "Invalid request parameters", "请求参数无效")
	ErrUnsupportedFormat  = NewRequestErr(ServiceRAG, 2, "Unsupported document format", "不支持的文档格式")
	ErrLengthMismatch     = NewRequestErr(ServiceRAG, 3, "Vectors and payloads length mismatch", "向量与载荷数量不一致")
	ErrInvalidChunkConfig = NewRequestErr(ServiceRAG, 4, "Chunk overlap must be smaller than chunk size", "分块重叠必须小于分块大小")
	ErrParseFailure       = NewError(ServiceRAG, CategoryRequest, 5, http.StatusUnprocessableEntity, codes.InvalidArgument,
		"Document could not be parsed", "文档解析失败")

	// 资源错误 (类别 04)
	ErrSessionNotFound    = NewNotFoundErr(ServiceRAG, 1, "Session not found", "会话不存在")
	ErrCollectionNotFound = NewNotFoundErr(ServiceRAG, 2, "Collection not found", "集合不存在")

	// 内部错误 (类别 07)
	ErrGenerationFailed = NewInternalErr(ServiceRAG, 1, "Response generation failed", "回答生成失败")
	ErrIndexFailed      = NewInternalErr(ServiceRAG, 2, "Document indexing failed", "文档索引失败")

	// 依赖服务错误 (类别 10)
	ErrEmbeddingUnavailable = NewNetworkErr(ServiceRAG, 1, "Embedding backend unavailable", "向量模型不可用")
	ErrStoreUnavailable     = NewNetworkErr(ServiceRAG, 2, "Vector store unavailable", "向量存储不可用")
	ErrScrapeFailed         = NewError(ServiceRAG, CategoryNetwork, 3, http.StatusBadGateway, codes.Unavailable,
		"Web page could not be scraped", "网页抓取失败")
	ErrDimensionMismatch = NewError(ServiceRAG, CategoryConflict, 1, http.StatusConflict, codes.FailedPrecondition,
		"Collection dimension does not match embedding dimension", "集合向量维度不匹配")

	// 配置错误 (类别 12)
	ErrConfiguration = NewConfigErr(ServiceRAG, 1, "Missing or invalid configuration", "配置缺失或无效")
)
