/*
包 converter 提供 batch.Converter 的参考实现。

Timestamp 把 Unix 秒、Unix 毫秒或 RFC3339 字符串转换为 iso、rfc3339、
rfc2822、unix、unix_ms、date、time、relative 等格式，Params 中的
timezone 指定输出时区。Func 把普通函数适配为 Converter。
*/
package converter
