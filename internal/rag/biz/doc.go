// Package biz 提供 RAG 服务的业务逻辑层。
//
// 该包采用分层架构，将业务逻辑拆分为以下组件：
//   - Indexer: 文档与网页索引（解析、分块、嵌入、写入会话集合）
//   - Retriever: 检索（查询嵌入、相似度搜索、来源整理）
//   - Generator: 生成（提示词构建、LLM 回答、流式输出、推荐问题）
//   - Service: 组合以上组件，是 HTTP 层唯一调用的入口
//
// 每个会话对应一个独立的向量集合，集合名为 user-session-{session_id}。
package biz
