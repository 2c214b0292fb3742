// Package types defines the dataset entities shared by every labelkit component:
// identifiers, categories, images, annotations, normalized boxes, the run
// configuration, and the standard error taxonomy.
package types
