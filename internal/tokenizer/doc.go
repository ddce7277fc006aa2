/*
Package tokenizer 提供上下文窗口使用的 token 计数器。

Tiktoken 基于 pkoukk/tiktoken-go 的 BPE 编码精确计数，编码在首次使用时加载，
加载失败时退回 Estimate。Estimate 按字符类别估算，不依赖任何数据文件。
*/
package tokenizer
