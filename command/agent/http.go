package agent

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/NYTimes/gziphandler"

	"github.com/epam/sge-autoscaler/autoscaler/structs"
	"github.com/epam/sge-autoscaler/logging"
)

const (
	// ErrInvalidMethod is used if the HTTP method is not supported
	ErrInvalidMethod = "Invalid method"
)

// CodedError returns an interface to the agent HTTP error code.
func CodedError(c int, s string) HTTPCodedError {
	return &codedError{s, c}
}

func (e *codedError) Error() string {
	return e.s
}

func (e *codedError) Code() int {
	return e.code
}

type codedError struct {
	s    string
	code int
}

// HTTPCodedError is used to provide the HTTP error code.
type HTTPCodedError interface {
	error
	Code() int
}

// StatusSource exposes the agent state served by the HTTP API.
type StatusSource struct {
	Config      *structs.Config
	HostStorage structs.HostStorage
	Recorder    structs.WorkerRecorder
	Version     string
}

// HTTPServer is used to wrap the agent state and expose it over an HTTP
// interface.
type HTTPServer struct {
	source   *StatusSource
	mux      *http.ServeMux
	listener net.Listener
	Addr     string
}

// Listener opens a listener on the given address and port. Ports outside
// 0-65535 are rejected; the address is passed to net.Listen as given.
func Listener(proto, addr string, port int) (net.Listener, error) {
	if 0 > port || port > 65535 {
		return nil, &net.OpError{
			Op:  "listen",
			Net: proto,
			Err: &net.AddrError{Err: "invalid port", Addr: fmt.Sprint(port)},
		}
	}
	return net.Listen(proto, net.JoinHostPort(addr, strconv.Itoa(port)))
}

// NewHTTPServer starts the HTTP API server for the autoscaler agent.
func NewHTTPServer(source *StatusSource, config *structs.Config) (*HTTPServer, error) {

	// Start the listener
	lnAddr, err := net.ResolveTCPAddr("tcp", config.BindAddress+":"+config.HTTPPort)
	if err != nil {
		return nil, err
	}
	ln, err := Listener("tcp", lnAddr.IP.String(), lnAddr.Port)
	if err != nil {
		return nil, fmt.Errorf("failed to start HTTP listener: %v", err)
	}

	// Create the mux
	mux := http.NewServeMux()

	// Create the server
	srv := &HTTPServer{
		source:   source,
		mux:      mux,
		listener: ln,
		Addr:     ln.Addr().String(),
	}
	srv.registerHandlers()

	// Handle requests with gzip compression
	gzip, err := gziphandler.GzipHandlerWithOpts(gziphandler.MinSize(0))
	if err != nil {
		return nil, err
	}

	go http.Serve(ln, gzip(mux))
	logging.Info("command/http: the API server has started and is listening at %s", srv.Addr)

	return srv, nil
}

// Shutdown is used to shutdown the HTTP server.
func (s *HTTPServer) Shutdown() {
	if s != nil {
		logging.Info("command/http: shutting down the HTTP server at %v", s.Addr)
		s.listener.Close()
	}
}

func (s *HTTPServer) registerHandlers() {
	s.mux.HandleFunc("/v1/status", s.wrap(s.StatusRequest))
	s.mux.HandleFunc("/v1/status/workers", s.wrap(s.StatusWorkersRequest))
}

// wrap translates a typed handler into an http.HandlerFunc with JSON
// encoding and error code handling.
func (s *HTTPServer) wrap(handler func(resp http.ResponseWriter,
	req *http.Request) (interface{}, error)) http.HandlerFunc {

	return func(resp http.ResponseWriter, req *http.Request) {
		obj, err := handler(resp, req)
		if err != nil {
			code := 500
			if coded, ok := err.(HTTPCodedError); ok {
				code = coded.Code()
			}
			resp.WriteHeader(code)
			resp.Write([]byte(err.Error()))
			return
		}
		if obj == nil {
			return
		}
		resp.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(resp).Encode(obj); err != nil {
			logging.Error("command/http: response encoding has failed: %v", err)
		}
	}
}
