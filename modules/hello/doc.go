// Package hello is an example module. Every command exercises a part of the module api:
//
//   - hello.simple: the selected database
//   - hello.push.native, hello.push.call, hello.push.call2: list push through a key and through Call
//   - hello.push.sum.len: iterating an array reply of Call
//   - hello.list.splice, hello.list.splice.auto: two write keys, pop and push
//   - hello.rand.array: array replies
//   - hello.repl1, hello.repl2: explicit and verbatim replication
//   - hello.toggle.case: string get and set
//   - hello.more.expire: time to live
//   - hello.zsumrange, hello.lexrange: sorted set score and lex ranges
//   - hello.hcopy: hash get and set
//   - hello.leftpad: argument validation
//   - hello.cluster.id, hello.cluster.nodes, hello.cluster.ping: cluster messaging
//
// The module is built into the server binary and loaded with `serve --module hello`.
package hello
