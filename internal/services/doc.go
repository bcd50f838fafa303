// Package services contains the business logic layer between the HTTP
// transport and the license repository, key store and token service.
package services
