// Package resp implements the RESP2 wire format used between clients and the server and
// in the append only file.
//
// Commands are arrays of bulk strings ("*2\r\n$3\r\nGET\r\n$1\r\nk\r\n"); inline commands
// ("GET k") are accepted from clients as well. Replies map one to one onto host.Reply:
//
//	+OK        status     host.KindStatus
//	-ERR x     error      host.KindError
//	:1         integer    host.KindInteger
//	$1\r\nv    bulk       host.KindBulk ($-1 is host.KindNull)
//	*2 ...     array      host.KindArray
//
// Reader and Writer are not safe for concurrent use.
package resp
