package api

// Read-only HTTP view of the controller state

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/EvgenyEmets/Routing/ofrouter/routing"
	"github.com/EvgenyEmets/Routing/pkg/ofctrl"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

type HttpApiFunc func(w http.ResponseWriter, r *http.Request, vars map[string]string) (interface{}, error)

// Connected switch as reported by the API
type SwitchInfo struct {
	Dpid    string `json:"dpid"`
	Address string `json:"address"`
}

// Source of connected switches
type SwitchLister func() []SwitchInfo

// Error carrying the HTTP status to return
type httpError struct {
	code int
	msg  string
}

func (e *httpError) Error() string {
	return e.msg
}

type ApiController struct {
	app      *routing.Routing
	switches SwitchLister
	router   *mux.Router
}

// Lists the switches connected to the ofctrl controller
func ConnectedSwitches() []SwitchInfo {
	var infos []SwitchInfo
	for _, sw := range ofctrl.Switches() {
		info := SwitchInfo{Dpid: ofctrl.DpidString(sw.DPID())}
		if addr := sw.RemoteAddr(); addr != nil {
			info.Address = addr.String()
		}
		infos = append(infos, info)
	}
	return infos
}

// Create a new API controller
func NewApiController(app *routing.Routing, switches SwitchLister) *ApiController {
	self := &ApiController{app: app, switches: switches}
	self.router = self.createRouter()
	return self
}

func (self *ApiController) Handler() http.Handler {
	return self.router
}

// Create a HTTP server and serve until it fails
func (self *ApiController) ListenAndServe(listenAddr string) error {
	log.Infof("HTTP server listening on %s", listenAddr)

	return http.ListenAndServe(listenAddr, self.router)
}

// Create a router and initialize the routes
func (self *ApiController) createRouter() *mux.Router {
	router := mux.NewRouter()

	// List of routes
	routeMap := map[string]map[string]HttpApiFunc{
		"GET": {
			"/switches":              self.httpGetSwitches,
			"/switches/{dpid}/hosts": self.httpGetHosts,
			"/switches/{dpid}/ports": self.httpGetPorts,
			"/arp":                   self.httpGetArp,
		},
	}

	// Register each method/path
	for method, routes := range routeMap {
		for route, funct := range routes {
			log.Debugf("Registering %s %s", method, route)

			f := makeHttpHandler(method, route, funct)
			router.Path(route).Methods(method).HandlerFunc(f)
		}
	}

	return router
}

// Simple wrapper for http handlers
func makeHttpHandler(localMethod string, localRoute string, handlerFunc HttpApiFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Debugf("%s %s", r.Method, r.RequestURI)

		resp, err := handlerFunc(w, r, mux.Vars(r))
		if err != nil {
			log.Errorf("Handler for %s %s returned error: %s", localMethod, localRoute, err)

			code := http.StatusInternalServerError
			if herr, ok := err.(*httpError); ok {
				code = herr.code
			}
			http.Error(w, err.Error(), code)
			return
		}

		if err := writeJSON(w, http.StatusOK, resp); err != nil {
			log.Errorf("Error writing response for %s %s. Err: %v", localMethod, localRoute, err)
		}
	}
}

// writeJSON: writes the value v to the http response stream as json
func writeJSON(w http.ResponseWriter, code int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	return json.NewEncoder(w).Encode(v)
}

// Dpids are accepted in hex as printed by the API
func parseDpid(vars map[string]string) (uint64, error) {
	dpid, err := strconv.ParseUint(vars["dpid"], 16, 64)
	if err != nil {
		return 0, &httpError{http.StatusBadRequest, fmt.Sprintf("invalid dpid %q", vars["dpid"])}
	}
	return dpid, nil
}

func (self *ApiController) httpGetSwitches(w http.ResponseWriter, r *http.Request, vars map[string]string) (interface{}, error) {
	switches := self.switches()
	if switches == nil {
		switches = []SwitchInfo{}
	}
	return switches, nil
}

func (self *ApiController) httpGetHosts(w http.ResponseWriter, r *http.Request, vars map[string]string) (interface{}, error) {
	dpid, err := parseDpid(vars)
	if err != nil {
		return nil, err
	}

	hosts := self.app.Hosts().Hosts(dpid)
	if hosts == nil {
		hosts = []routing.HostEntry{}
	}
	return hosts, nil
}

func (self *ApiController) httpGetPorts(w http.ResponseWriter, r *http.Request, vars map[string]string) (interface{}, error) {
	dpid, err := parseDpid(vars)
	if err != nil {
		return nil, err
	}

	table := self.app.Ports().Get(dpid)
	if table == nil {
		return nil, &httpError{http.StatusNotFound, fmt.Sprintf("switch %s not connected", ofctrl.DpidString(dpid))}
	}

	ports := table.Ports()
	if ports == nil {
		ports = []routing.PortInfo{}
	}
	return ports, nil
}

func (self *ApiController) httpGetArp(w http.ResponseWriter, r *http.Request, vars map[string]string) (interface{}, error) {
	entries := self.app.Arp().Entries()
	if entries == nil {
		entries = []routing.ArpEntry{}
	}
	return entries, nil
}
