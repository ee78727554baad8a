/*
Package imaging converts uploaded raster images to the canonical WebP form.

Decoding goes through image.Decode with PNG, JPEG, GIF, BMP, TIFF and WebP
decoders registered via blank imports; anything those cannot parse fails
with ErrNotImage. Encoding is lossy WebP at quality 80 by default, which is
what the image transfer pipeline stores as packed.webp.
*/
package imaging
