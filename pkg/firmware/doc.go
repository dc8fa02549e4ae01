// Package firmware loads a firmware image from disk, auto-detecting its
// wire format from the file extension when the caller doesn't name one
// explicitly. Firmware file parsing is an external-interface boundary
// (spec.md §1/§6): this package implements just enough of it — a raw
// binary loader and a plain Intel HEX decoder — for the upload driver to
// exercise against real files; a full ELF loader is out of scope.
package firmware
