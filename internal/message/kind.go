// Package message implements the tagged-union wire envelope every
// inter-server and client-to-server exchange rides on: a message is a kind
// tag plus a kind-dependent body, both packed by package codec. The
// transport header that precedes a message on the wire is opaque to this
// layer and is handled by package transport.
package message

// Kind identifies the schema of a message's body. Its numeric ordering is
// part of the wire ABI: new kinds are appended, never renumbered or
// inserted, so that a kind tag observed by an older or newer binary always
// names the same message shape.
type Kind uint32

const (
	// Client → coordinator.
	ClientNodeCreateReq Kind = iota
	ClientEdgeCreateReq
	ClientNodeDeleteReq
	ClientEdgeDeleteReq
	ClientAddEdgeProp
	ClientDelEdgeProp
	ClientClusteringReq
	ClientReachableReq
	ClientDijkstraReq
	ClientNodeProgReq

	// Coordinator → client.
	ClientReply
	ClientClusteringReply
	ClientDijkstraReply
	ClientNodeProgReply

	// Shard ↔ shard: node/edge lifecycle.
	NodeCreateReq
	EdgeCreateReq
	TransitEdgeCreateReq
	ReverseEdgeCreate
	TransitReverseEdgeCreate
	NodeCreateAck
	EdgeCreateAck
	TransitEdgeCreateAck
	NodeDeleteReq
	TransitNodeDeleteReq
	EdgeDeleteReq
	TransitEdgeDeleteReq
	PermanentDeleteEdge
	PermanentDeleteEdgeAck
	NodeDeleteAck
	EdgeDeleteAck
	EdgeAddProp
	TransitEdgeAddProp
	EdgeDeleteProp
	TransitEdgeDeleteProp
	EdgeDeletePropAck

	// Shard ↔ shard: caching and refresh.
	CacheUpdate
	CacheUpdateAck
	NodeRefreshReq
	NodeRefreshReply

	// Migration control.
	MigrateNodeStep1
	MigrateNodeStep4
	MigrateNodeStep6
	CoordNodeMigrate
	CoordNodeMigrateAck
	MigratedNbrUpdate

	// Node-program fabric.
	NodeProg

	// Error.
	ErrorKind

	// Coordinator → shard: abandon all state for a request.
	CancelRequest
)

var kindNames = map[Kind]string{
	ClientNodeCreateReq:      "CLIENT_NODE_CREATE_REQ",
	ClientEdgeCreateReq:      "CLIENT_EDGE_CREATE_REQ",
	ClientNodeDeleteReq:      "CLIENT_NODE_DELETE_REQ",
	ClientEdgeDeleteReq:      "CLIENT_EDGE_DELETE_REQ",
	ClientAddEdgeProp:        "CLIENT_ADD_EDGE_PROP",
	ClientDelEdgeProp:        "CLIENT_DEL_EDGE_PROP",
	ClientClusteringReq:      "CLIENT_CLUSTERING_REQ",
	ClientReachableReq:       "CLIENT_REACHABLE_REQ",
	ClientDijkstraReq:        "CLIENT_DIJKSTRA_REQ",
	ClientNodeProgReq:        "CLIENT_NODE_PROG_REQ",
	ClientReply:              "CLIENT_REPLY",
	ClientClusteringReply:    "CLIENT_CLUSTERING_REPLY",
	ClientDijkstraReply:      "CLIENT_DIJKSTRA_REPLY",
	ClientNodeProgReply:      "CLIENT_NODE_PROG_REPLY",
	NodeCreateReq:            "NODE_CREATE_REQ",
	EdgeCreateReq:            "EDGE_CREATE_REQ",
	TransitEdgeCreateReq:     "TRANSIT_EDGE_CREATE_REQ",
	ReverseEdgeCreate:        "REVERSE_EDGE_CREATE",
	TransitReverseEdgeCreate: "TRANSIT_REVERSE_EDGE_CREATE",
	NodeCreateAck:            "NODE_CREATE_ACK",
	EdgeCreateAck:            "EDGE_CREATE_ACK",
	TransitEdgeCreateAck:     "TRANSIT_EDGE_CREATE_ACK",
	NodeDeleteReq:            "NODE_DELETE_REQ",
	TransitNodeDeleteReq:     "TRANSIT_NODE_DELETE_REQ",
	EdgeDeleteReq:            "EDGE_DELETE_REQ",
	TransitEdgeDeleteReq:     "TRANSIT_EDGE_DELETE_REQ",
	PermanentDeleteEdge:      "PERMANENT_DELETE_EDGE",
	PermanentDeleteEdgeAck:   "PERMANENT_DELETE_EDGE_ACK",
	NodeDeleteAck:            "NODE_DELETE_ACK",
	EdgeDeleteAck:            "EDGE_DELETE_ACK",
	EdgeAddProp:              "EDGE_ADD_PROP",
	TransitEdgeAddProp:       "TRANSIT_EDGE_ADD_PROP",
	EdgeDeleteProp:           "EDGE_DELETE_PROP",
	TransitEdgeDeleteProp:    "TRANSIT_EDGE_DELETE_PROP",
	EdgeDeletePropAck:        "EDGE_DELETE_PROP_ACK",
	CacheUpdate:              "CACHE_UPDATE",
	CacheUpdateAck:           "CACHE_UPDATE_ACK",
	NodeRefreshReq:           "NODE_REFRESH_REQ",
	NodeRefreshReply:         "NODE_REFRESH_REPLY",
	MigrateNodeStep1:         "MIGRATE_NODE_STEP1",
	MigrateNodeStep4:         "MIGRATE_NODE_STEP4",
	MigrateNodeStep6:         "MIGRATE_NODE_STEP6",
	CoordNodeMigrate:         "COORD_NODE_MIGRATE",
	CoordNodeMigrateAck:      "COORD_NODE_MIGRATE_ACK",
	MigratedNbrUpdate:        "MIGRATED_NBR_UPDATE",
	NodeProg:                 "NODE_PROG",
	ErrorKind:                "ERROR",
	CancelRequest:            "CANCEL_REQUEST",
}

// String renders a Kind using its wire name, matching the original enum's
// identifiers so logs are directly greppable against the protocol spec.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "UNKNOWN_KIND"
}
