package agent

import (
	"net/http"
	"sort"

	"github.com/epam/sge-autoscaler/autoscaler/structs"
)

// StatusRequest serves the autoscaled queue state.
func (s *HTTPServer) StatusRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != "GET" {
		return nil, CodedError(405, ErrInvalidMethod)
	}

	hosts, err := s.source.HostStorage.LoadHosts()
	if err != nil {
		return nil, err
	}
	sort.Strings(hosts)

	return structs.StatusResponse{
		Version:            s.source.Version,
		Queue:              s.source.Config.Queue.Name,
		AdditionalHosts:    hosts,
		MaxAdditionalHosts: s.source.Config.Scaling.MaxAdditionalHosts,
	}, nil
}

// StatusWorkersRequest serves the recently launched worker records.
func (s *HTTPServer) StatusWorkersRequest(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if req.Method != "GET" {
		return nil, CodedError(405, ErrInvalidMethod)
	}

	return structs.WorkersResponse{
		Records: s.source.Recorder.Get(),
	}, nil
}
