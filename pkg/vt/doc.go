// Package vt is a client for the VirusTotal API v3.
//
// # Overview
//
// A Client owns one HTTP session that is opened on first use and reused by
// every operation until Close. Requests are authenticated with the X-Apikey
// header and bodies are transferred gzip-compressed. Entities returned by
// the API are represented as Object values: a type, an id, an ordered set of
// attributes and a separate set of context attributes.
//
// Getting a client
//
//	import (
//	  "context"
//	  "log"
//
//	  "github.com/fivetwenty-io/vt-client/pkg/vt"
//	)
//
//	func example() {
//	  ctx := context.Background()
//	  cli, err := vt.NewClient("<apikey>", vt.WithAgent("my-tool"))
//	  if err != nil { log.Fatal(err) }
//	  defer cli.Close()
//
//	  file, err := cli.GetObject(ctx, "/files/44d88612fea8a8f36de82e1278abb02f", nil)
//	  if err != nil { log.Fatal(err) }
//
//	  stats, _ := file.GetMap("last_analysis_stats")
//	  _ = stats
//	}
//
// # Blocking and asynchronous forms
//
// Every network operation exists twice. GetObjectAsync starts the request on
// its own goroutine and returns a Future; GetObject waits for that Future.
// Code running inside an asynchronous operation composes with Await:
//
//	fut := cli.GetObjectAsync(ctx, "/files/"+hash, nil)
//	// ... other work ...
//	file, err := fut.Await(ctx)
//
// A blocking form called with a context handed to an asynchronous operation
// fails with ErrBlockingInAsync.
//
// # Levels
//
// Get, Post, Patch and Delete return the raw Response whatever its status.
// GetJSON, GetData and GetObject classify the response first and fail with
// an *APIError when it is not a success. Use IsNotFound, IsQuotaExceeded and
// friends, or ErrorCode, to branch on API errors, and
// errors.Is(err, ErrValidation) to detect unexpected response shapes.
//
// # Collections and feeds
//
// Client.Iterator pages through collection endpoints and Client.Feed reads
// the per-minute file feed. A BatchExecutor runs many object operations
// concurrently with a bound on requests in flight.
//
// # Interceptors
//
// Request and response interceptors observe every exchange. The package
// ships logging, header, rate limiting and Prometheus metrics interceptors.
package vt
