// Package server exposes a host.Server over RESP on a TCP or unix socket.
//
// Every connection gets its own host session, so SELECT is per connection like in Redis.
// The connection goroutines only decode commands and encode replies; execution happens in
// host.Server.Exec under the loop lock of the host. Pipelined commands are answered in
// order and their replies are flushed together once no further command is buffered.
//
// Besides the commands of the host (native and module commands) the server handles QUIT.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Endpoint:      "0.0.0.0:6380",
//	  TimeoutSecond: 5,
//	  LogLevel:      "info",
//	}
//
//	s := server.NewRESPServer(h, config)
//	if err := s.Listen(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//	go s.Serve()
//
// Thread Safety:
//
//	The server is thread-safe and handles any number of connections concurrently.
//	Listen must be called once before Serve.
package server
