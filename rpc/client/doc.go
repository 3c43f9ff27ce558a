// Package client implements a RESP client for dkvmod servers. It is used by the cli
// command and by tests that talk to a server over the network.
//
// Usage Example:
//
//	c, err := client.NewClient(common.ClientConfig{
//		Endpoint:      "localhost:6380",
//		TimeoutSecond: 5,
//		RetryCount:    2,
//	})
//	if err != nil {
//		panic(err)
//	}
//	defer c.Close()
//
//	reply, _ := c.Do("hello.push.native", "list", "a")
//	fmt.Println(reply) // (integer) 1
package client
