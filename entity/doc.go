// Package entity defines the records stored in the loyalty table, their key
// layout, and the domain errors shared by the services.
//
// Key layout:
//
//	User         PK USER#{userId}   SK PROFILE                     GSI1 EMAIL#{email} / USER#{userId}
//	Transaction  PK USER#{userId}   SK POINTS#{transactionId}      GSI1 POINTS#{userId} / DATE#{createdAt}
//	Order        PK USER#{userId}   SK ORDER#{orderId}#{createdAt} GSI1 ORDER#{orderId} / DATE#{createdAt}
//	                                                               GSI2 STATUS#{status} / DATE#{createdAt}
//
// Transactions are ordered chronologically only through GSI1.
package entity
