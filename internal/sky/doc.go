// Package sky groups the layers of the star-field model.
//
// Responsibilities, leaf first:
//
//   - klt: optical-flow engine (feature selection and Lucas-Kanade
//     tracking over a fixed slot array).
//   - feature: per-point lifecycle (New -> Mature -> Dead).
//   - tracker: reconciles engine slots with the feature arena.
//   - mesh: incremental Delaunay triangulation with stable handles.
//   - graph: symmetric adjacency used for constellation edges.
//   - trackedmesh: tracker + mesh membership + ego-motion offset.
//   - heaven: constellation registry and the weighted random walk.
//   - pipeline: per-frame orchestration, command queue, snapshots.
//
// Dependency rule: a layer may import the layers listed before it, never
// the ones after. Storage (journal), rendering (skyplot) and HTTP
// (monitor) sit outside the layers and only read pipeline snapshots.
package sky
